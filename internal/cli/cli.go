// Package cli implements the target-gcs command-line interface.
package cli

import (
	"fmt"
	"os"
)

const (
	Version = "0.1.0"
	Banner  = `
  ╔╦╗╔═╗╦═╗╔═╗╔═╗╔╦╗ ╔═╗╔═╗╔═╗
   ║ ╠═╣╠╦╝║ ╦║╣  ║  ║ ╦║  ╚═╗
   ╩ ╩ ╩╩╚═╚═╝╚═╝ ╩  ╚═╝╚═╝╚═╝
  Singer target for Google Cloud Storage
  v%s
`
)

func PrintBanner() {
	fmt.Fprintf(os.Stderr, Banner, Version)
}
