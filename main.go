package main

import "github.com/nextlevelbuilder/ringclaw/cmd"

func main() {
	cmd.Execute()
}
