package main

import "stagerun/cmd"

func main() {
	cmd.Execute()
}
