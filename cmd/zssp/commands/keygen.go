package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backkem/zssp/pkg/crypto"
)

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-384 identity",
		Long: "Generate a P-384 identity. The private key is written hex encoded to --out " +
			"(or printed), and the public key is printed for use in a peer's configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			priv := hex.EncodeToString(kp.PrivateKeyBytes())
			if out != "" {
				if err := os.WriteFile(out, []byte(priv+"\n"), 0o600); err != nil {
					return fmt.Errorf("write private key: %w", err)
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "private_key: %s\n", priv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public_key: %s\n", hex.EncodeToString(kp.PublicKeyBytes()))
			id := crypto.SHA384(kp.PublicKeyBytes())
			fmt.Fprintf(cmd.OutOrStdout(), "identity: %x\n", id[:16])
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the private key to this file")
	return cmd
}
