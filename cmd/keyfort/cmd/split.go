package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/internal/util"
	"github.com/keyfort/keyfort/shamir"
	"github.com/keyfort/keyfort/vault"
)

var (
	splitThreshold int
	splitShares    int
	splitSecretHex string
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a secret into fraction keys",
	Long: `Splits a secret into threshold fraction keys. Without --secret-hex a
fresh 32-byte secret is generated and printed alongside the keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var secret []byte
		var err error
		if splitSecretHex != "" {
			secret, err = hex.DecodeString(splitSecretHex)
			if err != nil {
				return fmt.Errorf("decoding secret: %w", err)
			}
		} else {
			secret, err = util.NewAESKey()
			if err != nil {
				return err
			}
			fmt.Printf("vault id: %s\n", vault.NewVaultID())
			fmt.Printf("secret:   %s\n", hex.EncodeToString(secret))
		}
		defer util.WipeBytes(secret)

		keys, err := shamir.Split(secret, splitThreshold, splitShares)
		if err != nil {
			return err
		}
		for i, key := range keys {
			fmt.Printf("share %d:  %s\n", i+1, key)
		}
		return nil
	},
}

func init() {
	splitCmd.Flags().IntVar(&splitThreshold, "threshold", 3, "shares required to reconstruct")
	splitCmd.Flags().IntVar(&splitShares, "shares", 5, "total shares to produce")
	splitCmd.Flags().StringVar(&splitSecretHex, "secret-hex", "", "secret to split (hex); generated when omitted")
	rootCmd.AddCommand(splitCmd)
}
