// Package main is the entry point for the hotswap demo server.
package main

import "github.com/zot/hotswap/cli"

func main() {
	cli.Execute()
}
