package cli

// cmd/cli/wallet.go — key material helpers: mnemonic generation and identity
// derivation.  Never prints private material to logs, only to stdout.

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	core "github.com/storj-archived/core-sub000/core"
)

func initWalletMiddleware(*cobra.Command, []string) {
	_ = godotenv.Load()
}

func walletNew(cmd *cobra.Command, _ []string) error {
	bits, _ := cmd.Flags().GetInt("bits")
	mnemonic, err := core.NewMnemonic(bits)
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func walletDerive(cmd *cobra.Command, _ []string) error {
	mnemonic, _ := cmd.Flags().GetString("mnemonic")
	passphrase, _ := cmd.Flags().GetString("passphrase")
	index, _ := cmd.Flags().GetUint32("index")

	keys, err := core.KeyRingFromMnemonic(mnemonic, passphrase, index, newLogger())
	if err != nil {
		return err
	}
	fmt.Printf("node id:     %s\n", keys.NodeID())
	fmt.Printf("private key: %s\n", core.EncodePrivateKeyHex(keys.PrivateKey()))
	return nil
}

var walletCmd = &cobra.Command{
	Use:              "wallet",
	Short:            "Key material helpers",
	PersistentPreRun: initWalletMiddleware,
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "generate a recovery mnemonic",
	RunE:  walletNew,
}

var walletDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "derive a node identity from a mnemonic",
	RunE:  walletDerive,
}

func init() {
	walletNewCmd.Flags().Int("bits", 128, "entropy size (128 or 256)")

	walletDeriveCmd.Flags().String("mnemonic", "", "BIP-39 phrase")
	walletDeriveCmd.Flags().String("passphrase", "", "optional passphrase")
	walletDeriveCmd.Flags().Uint32("index", 0, "derivation index")
	_ = walletDeriveCmd.MarkFlagRequired("mnemonic")

	walletCmd.AddCommand(walletNewCmd, walletDeriveCmd)
}

// WalletRoute exports the consolidated wallet command tree.
func WalletRoute() *cobra.Command { return walletCmd }
