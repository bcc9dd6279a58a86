package core

// shard_client.go — HTTP client side of the shard transfer protocol.  Used
// by renters pushing consigned bytes and by farmers pulling a mirror from
// the source peer.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ShardClient moves shard bytes to and from peer shard servers.
type ShardClient struct {
	client *http.Client
	logger *logrus.Logger
}

// NewShardClient builds a client with the given total transfer timeout.
func NewShardClient(timeout time.Duration, lg *logrus.Logger) *ShardClient {
	if lg == nil {
		lg = logrus.New()
	}
	return &ShardClient{
		client: &http.Client{Timeout: timeout},
		logger: lg,
	}
}

func shardURL(contact Contact, hash, token string) string {
	return fmt.Sprintf("%s/shards/%s?token=%s", contact.URL(), hash, token)
}

// Upload streams shard bytes to the peer under a PUSH token.
func (c *ShardClient) Upload(ctx context.Context, contact Contact, hash, token string, data io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, shardURL(contact, hash, token), data)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeTransferError(resp)
	}
	c.logger.Debugf("uploaded shard %s to %s", hash, contact.NodeID)
	return nil
}

// Download opens a stream of shard bytes from the peer under a PULL token.
// The caller owns the returned reader.
func (c *ShardClient) Download(ctx context.Context, contact Contact, hash, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shardURL(contact, hash, token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", hash, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeTransferError(resp)
	}
	return resp.Body, nil
}

func decodeTransferError(resp *http.Response) error {
	var we wireError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&we); err != nil || we.Message == "" {
		return fmt.Errorf("transfer failed with status %d", resp.StatusCode)
	}
	return fmt.Errorf("transfer failed: %s", we.Message)
}
