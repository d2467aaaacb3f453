package main

import "github.com/risa-org/chatlink/cmd/chatlink/cmd"

func main() {
	cmd.Execute()
}
