package main

import (
	"github.com/praetorian-inc/privmap/cmd"
)

func main() {
	cmd.Execute()
}
