package main

import "github.com/tierstore/tierstore/cmd"

func main() {
	cmd.Execute()
}
