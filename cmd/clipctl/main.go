package main

import "github.com/bobarin/clipforge/internal/cli"

func main() {
	cli.Main()
}
