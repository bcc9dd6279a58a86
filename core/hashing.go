package core

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/ripemd160"
)

// The protocol addresses everything — shards, node ids, audit tree nodes —
// by RIPEMD160(SHA256(x)).  All hashing here operates on raw bytes; the hex
// form only appears at the wire and storage boundaries.

// Hash160 returns RIPEMD160(SHA256(data)).
func Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sum[:])
	return r.Sum(nil)
}

// Hash160Hex returns the lower-case hex form of Hash160.
func Hash160Hex(data []byte) string {
	return hex.EncodeToString(Hash160(data))
}

// hash160Writer wraps a running SHA-256 so shard bytes can be hashed while
// streaming; Sum160 finalises to the 20-byte protocol digest.
type hash160Writer struct {
	inner hash.Hash
}

func newHash160Writer() *hash160Writer {
	return &hash160Writer{inner: sha256.New()}
}

func (h *hash160Writer) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

func (h *hash160Writer) Sum160() []byte {
	r := ripemd160.New()
	r.Write(h.inner.Sum(nil))
	return r.Sum(nil)
}

func (h *hash160Writer) Sum160Hex() string {
	return hex.EncodeToString(h.Sum160())
}

// isHexHash reports whether s is a well-formed lower-case 160-bit hex digest.
func isHexHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
