package main

import (
	"github.com/lirano/guild-archiver/cmd"
)

func main() {
	cmd.Execute()
}
