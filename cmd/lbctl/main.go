package main

import (
	"os"

	"github.com/newnol/vercel-lb/cmd/lbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
