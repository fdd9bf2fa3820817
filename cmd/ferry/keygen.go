package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/ferry/internal/host"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random access key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := host.GenerateAccessKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
