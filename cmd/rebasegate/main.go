package main

import "rebasegate/internal/cli"

func main() {
	cli.Execute()
}
