package main

import "vote-escrow/internal/cli"

func main() {
	cli.Execute()
}
