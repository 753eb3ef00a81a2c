package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/internal/util"
	"github.com/keyfort/keyfort/shamir"
)

var combineCmd = &cobra.Command{
	Use:   "combine <fraction-key> <fraction-key> [fraction-key...]",
	Short: "Reconstruct a secret from fraction keys",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := shamir.Combine(args)
		if err != nil {
			return err
		}
		defer util.WipeBytes(secret)

		fmt.Println(hex.EncodeToString(secret))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(combineCmd)
}
