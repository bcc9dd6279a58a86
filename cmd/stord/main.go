package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cli "github.com/storj-archived/core-sub000/cmd/cli"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "stord",
		Short: "decentralized storage network node",
	}
	rootCmd.AddCommand(cli.NodeRoute())
	rootCmd.AddCommand(cli.ContractRoute())
	rootCmd.AddCommand(cli.AuditRoute())
	rootCmd.AddCommand(cli.ShardRoute())
	rootCmd.AddCommand(cli.WalletRoute())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
