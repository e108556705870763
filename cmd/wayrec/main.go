package main

import "wayrec/cmd/wayrec/commands"

func main() {
	commands.Execute()
}
