package main

import (
	"github.com/ralph-labs/orchestrator/cmd"
)

func main() {
	cmd.Execute()
}
