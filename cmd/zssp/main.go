// zssp is a command line front end for the zssp session protocol.
//
// Usage:
//
//	zssp keygen [--out node.key]
//	zssp run --config node.yaml [--metrics-addr 127.0.0.1:9100]
//	zssp loopback [--messages 20] [--loss 0.1] [--rekey-after-uses 8]
package main

import (
	"os"

	"github.com/backkem/zssp/cmd/zssp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
