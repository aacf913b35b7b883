package main

import "github.com/caedis/launcher-updater/cmd"

func main() {
	cmd.Execute()
}
