package cmd

import (
	"fmt"
	"log"

	"github.com/Steven-Machin/discord-chatbot/chatbot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database schema",
	Long: "Creates the database (if needed) and applies schema " +
		"migrations. Safe to re-run: an already-migrated database is " +
		"left unchanged.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal(
				"Environment variable QM_DATABASE_TYPE not set " +
					"(must be one of: sqlite, postgres)",
			)
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable QM_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		_, err := chatbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
