package main

import (
	"liqwatch/internal/cli"
)

func main() {
	cli.Execute()
}
