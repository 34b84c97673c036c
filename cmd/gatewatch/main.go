package main

import "github.com/ppiankov/gatewatch/internal/cli"

func main() {
	cli.Execute()
}
