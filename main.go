package main

import "github.com/kon-agent/kon/cmd"

func main() {
	cmd.Execute()
}
