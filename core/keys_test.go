package core

import (
	"crypto/sha256"
	"strings"
	"testing"
)

func TestKeyRingSignDigestRecover(t *testing.T) {
	keys := testKeyRing(t)
	digest := sha256.Sum256([]byte("signing payload"))

	sig, err := keys.SignDigest(digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pub, err := RecoverSigner(digest[:], sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if Hash160Hex(pub) != keys.NodeID() {
		t.Fatal("recovered key does not hash to the node id")
	}

	// A different digest must not recover the same identity.
	other := sha256.Sum256([]byte("other payload"))
	pub2, err := RecoverSigner(other[:], sig)
	if err == nil && Hash160Hex(pub2) == keys.NodeID() {
		t.Fatal("signature must bind to its digest")
	}
}

func TestKeyRingRejectsShortDigest(t *testing.T) {
	keys := testKeyRing(t)
	if _, err := keys.SignDigest([]byte("short")); err == nil {
		t.Fatal("short digest should be rejected")
	}
}

func TestKeyRingFromMnemonicDeterministic(t *testing.T) {
	mnemonic, err := NewMnemonic(128)
	if err != nil {
		t.Fatalf("mnemonic: %v", err)
	}
	a, err := KeyRingFromMnemonic(mnemonic, "", 0, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	b, err := KeyRingFromMnemonic(mnemonic, "", 0, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if a.NodeID() != b.NodeID() {
		t.Fatal("same mnemonic must derive the same identity")
	}

	c, err := KeyRingFromMnemonic(mnemonic, "", 1, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if c.NodeID() == a.NodeID() {
		t.Fatal("different index must derive a different identity")
	}

	if _, err := KeyRingFromMnemonic("not a mnemonic", "", 0, nil); err == nil {
		t.Fatal("invalid mnemonic should be rejected")
	}
}

func TestPrivateKeyHexRoundTrip(t *testing.T) {
	keys := testKeyRing(t)
	encoded := EncodePrivateKeyHex(keys.PrivateKey())
	priv, err := ParsePrivateKeyHex(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	restored, err := NewKeyRing(priv, "", 0, nil)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	if restored.NodeID() != keys.NodeID() {
		t.Fatal("private key round trip changed the identity")
	}
}

func TestValidateExtendedKey(t *testing.T) {
	tooLong := "xpub" + strings.Repeat("6", 108)
	if err := ValidateExtendedKey(tooLong); err == nil {
		t.Fatal("keys longer than 111 characters should be rejected")
	}
	if err := ValidateExtendedKey("xpub" + strings.Repeat("6", 107)); err != nil {
		t.Fatalf("111-character base58 key rejected: %v", err)
	}
	if err := ValidateExtendedKey("0OIl+/"); err == nil {
		t.Fatal("non-base58 characters should be rejected")
	}
	if err := ValidateExtendedKey(""); err == nil {
		t.Fatal("empty keys should be rejected")
	}
}
