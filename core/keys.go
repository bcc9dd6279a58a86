package core

// Key material for a storage node.
//
// Every node holds one secp256k1 keypair; its node id is the 160-bit hash of
// the compressed public key.  Renters additionally carry an opaque extended
// public key (base58) plus a derivation index which travel inside contracts —
// the key tree itself is collaborator territory, this package only needs the
// "sign bytes, recover signer" capability.

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	log "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
)

const (
	hardenedOffset uint32 = 0x80000000

	masterHMACKey = "Bitcoin seed"

	// Contracts cap extended keys at 111 base58 characters.
	maxExtendedKeyLength = 111
)

// KeyRing bundles the node's private key with its HD identity fields.
type KeyRing struct {
	priv    *ecdsa.PrivateKey
	hdKey   string
	hdIndex uint32
	logger  *log.Logger
}

// NewKeyRing wraps an existing private key.  hdKey may be empty for nodes
// that do not participate as renters.
func NewKeyRing(priv *ecdsa.PrivateKey, hdKey string, hdIndex uint32, lg *log.Logger) (*KeyRing, error) {
	if priv == nil {
		return nil, errors.New("nil private key")
	}
	if hdKey != "" {
		if err := ValidateExtendedKey(hdKey); err != nil {
			return nil, fmt.Errorf("hd key: %w", err)
		}
	}
	if lg == nil {
		lg = log.New()
	}
	return &KeyRing{priv: priv, hdKey: hdKey, hdIndex: hdIndex, logger: lg}, nil
}

// NewRandomKeyRing generates a fresh keypair.
func NewRandomKeyRing(lg *log.Logger) (*KeyRing, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewKeyRing(priv, "", 0, lg)
}

// KeyRingFromMnemonic imports a BIP-39 phrase and derives the node key from
// the master seed at the (hardened) index.
func KeyRingFromMnemonic(mnemonic, passphrase string, index uint32, lg *log.Logger) (*KeyRing, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return KeyRingFromSeed(seed, index, lg)
}

// KeyRingFromSeed derives the node key from raw seed bytes.
func KeyRingFromSeed(seed []byte, index uint32, lg *log.Logger) (*KeyRing, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}
	I := hmacSHA512([]byte(masterHMACKey), seed)
	key, _, err := deriveChild(I[:32], I[32:], index|hardenedOffset)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("derived key: %w", err)
	}
	return NewKeyRing(priv, "", index, lg)
}

// deriveChild computes the hardened child key material for index.
func deriveChild(parentKey, parentChain []byte, index uint32) (key, ccode []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("only hardened derivation is supported")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)

	I := hmacSHA512(parentChain, data)
	return I[:32], I[32:], nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// NodeID returns the 40-hex identity derived from the public key.
func (k *KeyRing) NodeID() string {
	return Hash160Hex(crypto.CompressPubkey(&k.priv.PublicKey))
}

// HDKey returns the ring's extended public key ("" when absent).
func (k *KeyRing) HDKey() string { return k.hdKey }

// HDIndex returns the ring's derivation index.
func (k *KeyRing) HDIndex() uint32 { return k.hdIndex }

// PrivateKey exposes the underlying key for contract signing.
func (k *KeyRing) PrivateKey() *ecdsa.PrivateKey { return k.priv }

// SignDigest produces the protocol signature form over a 32-byte digest:
// base64(recovery id || 64-byte compact signature).
func (k *KeyRing) SignDigest(digest []byte) (string, error) {
	if len(digest) != 32 {
		return "", errors.New("digest must be 32 bytes")
	}
	sig, err := crypto.Sign(digest, k.priv)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	// go-ethereum emits R||S||V; the wire form carries the recovery id first.
	out := make([]byte, 65)
	out[0] = sig[64]
	copy(out[1:], sig[:64])
	return base64.StdEncoding.EncodeToString(out), nil
}

// RecoverSigner recovers the compressed public key from a protocol signature
// and the digest it covers, verifying the signature in the process.
func RecoverSigner(digest []byte, signature string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 65 {
		return nil, errors.New("signature must be 65 bytes")
	}
	sig := make([]byte, 65)
	copy(sig, raw[1:])
	sig[64] = raw[0]

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	compressed := crypto.CompressPubkey(pub)
	if !crypto.VerifySignature(compressed, digest, sig[:64]) {
		return nil, errors.New("signature does not verify")
	}
	return compressed, nil
}

// ValidateExtendedKey checks the base58 form and length bound of an extended
// public key.  The key content is opaque to this package.
func ValidateExtendedKey(key string) error {
	if key == "" || len(key) > maxExtendedKeyLength {
		return errors.New("extended key length out of range")
	}
	if _, err := base58.Decode(key); err != nil {
		return fmt.Errorf("extended key is not base58: %w", err)
	}
	return nil
}

// ParsePrivateKeyHex loads a 32-byte hex-encoded private key.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return crypto.ToECDSA(raw)
}

// EncodePrivateKeyHex is the inverse of ParsePrivateKeyHex.
func EncodePrivateKeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(priv))
}

// NewMnemonic generates a fresh BIP-39 phrase with the given entropy size.
func NewMnemonic(entropyBits int) (string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}
