package main

import "apirelay/cmd"

func main() {
	cmd.Execute()
}
