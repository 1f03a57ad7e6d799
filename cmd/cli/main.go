package main

import "github.com/dump-correlator/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
