package main

import "github.com/aceteam-ai/jobloop/cmd"

func main() {
	cmd.Execute()
}
