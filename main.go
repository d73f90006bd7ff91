package main

import "github.com/kris-hansen/sheetsmith/cmd"

func main() {
	cmd.Execute()
}
