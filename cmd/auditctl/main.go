// Package main runs the auditctl operator CLI.
package main

import (
	"os"

	"github.com/i2kashif/CopperCore-sub002/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
