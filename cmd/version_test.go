package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/Steven-Machin/discord-chatbot/chatbot"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := chatbot.Version
	originalCommitSHA := chatbot.CommitSHA
	originalBuildTime := chatbot.BuildTime

	t.Cleanup(
		func() {
			chatbot.Version = originalVersion
			chatbot.CommitSHA = originalCommitSHA
			chatbot.BuildTime = originalBuildTime
		},
	)

	chatbot.Version = "1.0.0"
	chatbot.CommitSHA = "abc123"
	chatbot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		chatbot.Version,
		chatbot.CommitSHA,
		chatbot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
