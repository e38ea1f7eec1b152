package main

import "github.com/agentic-research/assetgen/cmd"

func main() {
	cmd.Execute()
}
