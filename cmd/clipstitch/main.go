package main

import "github.com/forPelevin/clipstitch/internal/cli"

func main() {
	cli.Main()
}
