package main

import "github.com/bryanchriswhite/WindowLapse/cmd/windowlapse/commands"

func main() {
	commands.Execute()
}
