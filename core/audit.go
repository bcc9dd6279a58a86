package core

// audit.go — one-pass Merkle challenge generation.
//
// The renter generates N random challenges before consigning a shard.  Each
// challenge owns a running SHA-256 pre-fed with the challenge bytes, so a
// single pass over the shard produces every challenge response.  The stream
// is linear: write, finish once, read the records.

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// ChallengeSize is the byte length of a single audit challenge.
const ChallengeSize = 32

// AuditRecord is the renter's private audit state for one shard/peer pair.
type AuditRecord struct {
	Root       string   `json:"root"`
	Depth      int      `json:"depth"`
	Challenges []string `json:"challenges"`
}

// AuditStream consumes shard bytes and finalizes into the audit tree.
type AuditStream struct {
	challenges [][]byte
	digests    []hash.Hash
	leaves     [][]byte
	tree       *merkleTree
	finished   bool
}

// NewAuditStream prepares count challenges, each with its own partial hasher.
func NewAuditStream(count int) (*AuditStream, error) {
	if count < 1 {
		return nil, errors.New("audit count must be positive")
	}
	s := &AuditStream{
		challenges: make([][]byte, count),
		digests:    make([]hash.Hash, count),
	}
	for i := 0; i < count; i++ {
		challenge := make([]byte, ChallengeSize)
		if _, err := rand.Read(challenge); err != nil {
			return nil, fmt.Errorf("generate challenge: %w", err)
		}
		s.challenges[i] = challenge
		s.digests[i] = sha256.New()
		s.digests[i].Write(challenge)
	}
	return s, nil
}

// AuditStreamFromRecords restores verifier state from persisted challenges
// and (already padded) public leaves, skipping shard consumption.
func AuditStreamFromRecords(challenges, leaves []string) (*AuditStream, error) {
	decodedChallenges, err := decodeHexList(challenges)
	if err != nil {
		return nil, fmt.Errorf("challenges: %w", err)
	}
	decodedLeaves, err := decodeHexList(leaves)
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}
	if len(decodedLeaves) == 0 {
		return nil, errors.New("no audit leaves")
	}
	padded := padLeaves(decodedLeaves)
	tree, err := newMerkleTree(padded)
	if err != nil {
		return nil, err
	}
	return &AuditStream{
		challenges: decodedChallenges,
		leaves:     padded,
		tree:       tree,
		finished:   true,
	}, nil
}

// Write feeds shard bytes to every challenge hasher.
func (s *AuditStream) Write(p []byte) (int, error) {
	if s.finished {
		return 0, errors.New("audit stream already finished")
	}
	if s.digests == nil {
		return 0, errors.New("audit stream is not writable")
	}
	for _, d := range s.digests {
		d.Write(p)
	}
	return len(p), nil
}

// Finish computes the challenge responses, pads the leaf row to a power of
// two and builds the tree.  The stream is consumed exactly once.
func (s *AuditStream) Finish() error {
	if s.finished {
		return errors.New("audit stream already finished")
	}
	leaves := make([][]byte, len(s.digests))
	for i, d := range s.digests {
		response := d.Sum(nil)
		leaves[i] = Hash160(response)
	}
	s.leaves = padLeaves(leaves)
	tree, err := newMerkleTree(s.leaves)
	if err != nil {
		return err
	}
	s.tree = tree
	s.digests = nil
	s.finished = true
	return nil
}

// PublicRecord returns the padded bottom leaves, the farmer's copy.
func (s *AuditStream) PublicRecord() ([]string, error) {
	if !s.finished {
		return nil, errors.New("audit stream not finished")
	}
	return encodeHexList(s.leaves), nil
}

// PrivateRecord returns the renter's verification state: tree root, depth
// and the raw challenges.
func (s *AuditStream) PrivateRecord() (*AuditRecord, error) {
	if !s.finished {
		return nil, errors.New("audit stream not finished")
	}
	return &AuditRecord{
		Root:       s.tree.RootHex(),
		Depth:      s.tree.Depth(),
		Challenges: encodeHexList(s.challenges),
	}, nil
}

func encodeHexList(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = hex.EncodeToString(item)
	}
	return out
}

func decodeHexList(items []string) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, item := range items {
		raw, err := hex.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}
