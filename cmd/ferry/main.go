// Package main provides the CLI entry point for Ferry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ferry",
		Short: "Ferry - point-to-point encrypted file distribution",
		Long: `Ferry serves a set of local files to a single authenticated peer
over a TCP connection protected by an ephemeral key agreement and
authenticated encryption.

A host advertises files with "ferry host"; a peer downloads them
with "ferry fetch". Peers authorize with a shared access key that
travels only over the encrypted channel.`,
		Version: Version,
	}

	rootCmd.AddCommand(hostCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
