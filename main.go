package main

import "github.com/ambergull/ambergull/cmd"

func main() {
	cmd.Execute()
}
