package cli

// cmd/cli/shard.go — direct shard transfer against a peer's shard server,
// given a transfer token obtained through CONSIGN or RETRIEVE.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	core "github.com/storj-archived/core-sub000/core"
	"github.com/storj-archived/core-sub000/pkg/utils"
)

var shardFlags struct {
	address string
	port    int
	timeout time.Duration
}

func initShardMiddleware(cmd *cobra.Command, _ []string) {
	_ = godotenv.Load()
	resolveStringFlag(cmd, "address", &shardFlags.address, os.Getenv("SHARD_PEER_ADDR"))
	resolveIntFlag(cmd, "port", &shardFlags.port, envInt("SHARD_PEER_PORT", 0))
	shardFlags.timeout = utils.EnvOrDefaultDuration("SHARD_TIMEOUT", time.Minute)
}

func shardPeer(cmd *cobra.Command) core.Contact {
	id, _ := cmd.Flags().GetString("peer-id")
	return core.Contact{NodeID: id, Address: shardFlags.address, Port: shardFlags.port}
}

func shardUpload(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	token, _ := cmd.Flags().GetString("token")

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read shard: %w", err)
	}
	hash := core.Hash160Hex(raw)

	ctx, cancel := context.WithTimeout(context.Background(), shardFlags.timeout)
	defer cancel()
	client := core.NewShardClient(shardFlags.timeout, newLogger())
	if err := client.Upload(ctx, shardPeer(cmd), hash, token, bytes.NewReader(raw)); err != nil {
		return err
	}
	fmt.Printf("uploaded %d bytes as %s\n", len(raw), hash)
	return nil
}

func shardDownload(cmd *cobra.Command, _ []string) error {
	hash, _ := cmd.Flags().GetString("hash")
	token, _ := cmd.Flags().GetString("token")
	out, _ := cmd.Flags().GetString("out")

	ctx, cancel := context.WithTimeout(context.Background(), shardFlags.timeout)
	defer cancel()
	client := core.NewShardClient(shardFlags.timeout, newLogger())
	reader, err := client.Download(ctx, shardPeer(cmd), hash, token)
	if err != nil {
		return err
	}
	defer reader.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := io.Copy(f, reader)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", n, out)
	return nil
}

var shardCmd = &cobra.Command{
	Use:              "shard",
	Short:            "Token-authorized shard transfer",
	PersistentPreRun: initShardMiddleware,
}

var shardUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "push shard bytes under a PUSH token",
	RunE:  shardUpload,
}

var shardDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "pull shard bytes under a PULL token",
	RunE:  shardDownload,
}

func init() {
	shardCmd.PersistentFlags().String("address", "", "peer shard server address")
	shardCmd.PersistentFlags().Int("port", 0, "peer shard server port")
	shardCmd.PersistentFlags().String("peer-id", "", "peer node id")

	shardUploadCmd.Flags().String("file", "", "shard file to upload")
	shardUploadCmd.Flags().String("token", "", "PUSH token")
	_ = shardUploadCmd.MarkFlagRequired("file")
	_ = shardUploadCmd.MarkFlagRequired("token")

	shardDownloadCmd.Flags().String("hash", "", "shard hash")
	shardDownloadCmd.Flags().String("token", "", "PULL token")
	shardDownloadCmd.Flags().String("out", "shard.bin", "output path")
	_ = shardDownloadCmd.MarkFlagRequired("hash")
	_ = shardDownloadCmd.MarkFlagRequired("token")

	shardCmd.AddCommand(shardUploadCmd, shardDownloadCmd)
}

// ShardRoute exports the consolidated shard command tree.
func ShardRoute() *cobra.Command { return shardCmd }
