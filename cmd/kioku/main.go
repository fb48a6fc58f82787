// Package main is the entry point for the kioku cache server.
package main

import "github.com/y3owk1n/kioku/internal/cli"

func main() {
	cli.Execute()
}
