package main

import "github.com/Steven-Machin/discord-chatbot/cmd"

func main() {
	cmd.Execute()
}
