package main

import "github.com/openteams/pulse/cmd"

func main() {
	cmd.Execute()
}
