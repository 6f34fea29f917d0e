package main

import "github.com/sonomandeep/deviceauth/cmd/devicectl/cmd"

func main() {
	cmd.Execute()
}
