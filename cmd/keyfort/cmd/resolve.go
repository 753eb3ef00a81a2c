package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/arweave"
)

var (
	resolveGateways []string
	resolveTxHint   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <vault-id>",
	Short: "Resolve the authoritative payload for a vault id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []arweave.ClientOption{}
		if len(resolveGateways) > 0 {
			opts = append(opts, arweave.WithGateways(resolveGateways...))
		}
		client := arweave.NewClient(opts...)

		res, err := client.Resolve(cmd.Context(), args[0], resolveTxHint)
		if err != nil {
			return err
		}

		out := struct {
			TxID     string `json:"txId"`
			VaultID  string `json:"vaultId"`
			KeyMode  string `json:"keyMode"`
			Metadata string `json:"metadata,omitempty"`
		}{
			TxID:     res.TxID,
			VaultID:  res.Payload.VaultID,
			KeyMode:  res.Payload.Data.KeyMode,
			Metadata: res.Payload.Metadata,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveGateways, "gateway", nil, "gateway base URL (repeatable)")
	resolveCmd.Flags().StringVar(&resolveTxHint, "tx", "", "last known transaction id")
	rootCmd.AddCommand(resolveCmd)
}
