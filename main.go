package main

import "github.com/protogen-build/protogen/cmd"

func main() {
	cmd.Execute()
}
