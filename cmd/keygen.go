package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/sandwichbot/config"
)

// keygenCmd creates a key for signing relay requests. The key holds no
// funds; it only builds searcher reputation with the relay.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a Flashbots authentication key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s=%s\n", config.EnvFlashbotsAuthKey, hexutil.Encode(crypto.FromECDSA(key)))
		fmt.Fprintf(out, "# address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
