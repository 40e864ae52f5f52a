package main

import "github.com/ppiankov/agentgate/internal/cli"

func main() {
	cli.Execute()
}
