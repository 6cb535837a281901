package main

import "github.com/bryanchriswhite/stillframe/cmd/stillframe/commands"

func main() {
	commands.Execute()
}
