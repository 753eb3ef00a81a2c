package cmd

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/timelock"
)

var (
	sealReleaseAt string
	sealRound     uint64
	sealHost      string
	sealChainHash string
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Time-lock a release secret read from stdin",
	Long: `Seals stdin against a future beacon round so it can only be opened once
the round is published. The round is derived from --release-at unless
--round is given explicitly. The sealed secret is written to stdout as
base64.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		round := sealRound
		if round == 0 {
			if sealReleaseAt == "" {
				return fmt.Errorf("either --release-at or --round is required")
			}
			target, err := time.Parse(time.RFC3339, sealReleaseAt)
			if err != nil {
				return fmt.Errorf("parsing release time: %w", err)
			}
			round = timelock.RoundAt(timelock.DefaultBeaconGenesis, timelock.DefaultBeaconPeriod, target)
		}

		secret, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading secret: %w", err)
		}

		network, err := timelock.NewNetwork(sealHost, sealChainHash)
		if err != nil {
			return fmt.Errorf("connecting to beacon: %w", err)
		}

		sealed, err := timelock.Seal(network, round, secret)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(sealed))
		return nil
	},
}

func init() {
	sealCmd.Flags().StringVar(&sealReleaseAt, "release-at", "", "release time (RFC3339)")
	sealCmd.Flags().Uint64Var(&sealRound, "round", 0, "explicit beacon round (overrides --release-at)")
	sealCmd.Flags().StringVar(&sealHost, "host", timelock.DefaultBeaconHost, "beacon HTTP endpoint")
	sealCmd.Flags().StringVar(&sealChainHash, "chain-hash", timelock.DefaultChainHash, "beacon chain hash")
	rootCmd.AddCommand(sealCmd)
}
