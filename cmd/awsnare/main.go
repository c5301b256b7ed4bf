package main

import "github.com/awsnare/awsnare/cmd/awsnare/commands"

func main() {
	commands.Execute()
}
