package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keyfort",
	Short: "Keyfort is a threshold vault toolkit",
	Long: `Tools for splitting and reconstructing fraction keys, sealing release
secrets against a randomness beacon, and resolving vault payloads on the
storage network.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
