package main

import (
	"github.com/peergrade/peergrade/pkg/cli"
)

func main() {
	cli.Execute()
}
