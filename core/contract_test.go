package core

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func testKeyRing(t *testing.T) *KeyRing {
	t.Helper()
	keys, err := NewRandomKeyRing(nil)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return keys
}

// testDescriptor builds a valid renter-side contract for the given shard
// bytes.
func testDescriptor(t *testing.T, renter *KeyRing, shard []byte) *Contract {
	t.Helper()
	begin := time.Now().UnixMilli()
	c, err := NewContract(map[string]any{
		"renter_id":   renter.NodeID(),
		"data_size":   len(shard),
		"data_hash":   Hash160Hex(shard),
		"store_begin": begin,
		"store_end":   begin + 30*24*time.Hour.Milliseconds(),
		"audit_count": 4,
	})
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	return c
}

// completeContract signs the descriptor as both parties.
func completeContract(t *testing.T, renter, farmer *KeyRing, shard []byte) *Contract {
	t.Helper()
	c := testDescriptor(t, renter, shard)
	err := c.Update(map[string]any{
		"farmer_id":           farmer.NodeID(),
		"payment_destination": "pay-to-farmer",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Sign(RoleFarmer, farmer); err != nil {
		t.Fatalf("farmer sign: %v", err)
	}
	if err := c.Sign(RoleRenter, renter); err != nil {
		t.Fatalf("renter sign: %v", err)
	}
	return c
}

func TestContractCanonicalFormStable(t *testing.T) {
	renter := testKeyRing(t)
	shard := []byte("canonical shard bytes")

	a := testDescriptor(t, renter, shard)
	// Same fields applied one at a time in a different order.
	b, err := NewContract(nil)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	for _, field := range []string{"store_end", "data_hash", "renter_id", "audit_count", "store_begin", "data_size"} {
		if err := b.Set(field, a.Get(field)); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}

	if !bytes.Equal(a.SigningData(), b.SigningData()) {
		t.Fatalf("canonical forms diverge:\n%s\n%s", a.SigningData(), b.SigningData())
	}
}

func TestContractDropsUnknownKeys(t *testing.T) {
	c, err := NewContract(map[string]any{
		"data_size":      1024,
		"bogus_field":    "should vanish",
		"another_bogus":  42,
	})
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(raw, []byte("bogus")) {
		t.Fatalf("unknown key survived: %s", raw)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != len(contractFields) {
		t.Fatalf("expected %d fields, got %d", len(contractFields), len(decoded))
	}
}

func TestContractSignatureRoundTrip(t *testing.T) {
	renter := testKeyRing(t)
	farmer := testKeyRing(t)
	shard := []byte("signed shard bytes")

	c := completeContract(t, renter, farmer, shard)
	if !c.Verify(RoleRenter) {
		t.Fatal("renter signature should verify")
	}
	if !c.Verify(RoleFarmer) {
		t.Fatal("farmer signature should verify")
	}
	if !c.IsComplete() {
		t.Fatal("contract should be complete")
	}

	// Serialize, reconstruct, verify again.
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := ParseContract(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !restored.Verify(RoleRenter) || !restored.Verify(RoleFarmer) {
		t.Fatal("signatures should survive a wire round trip")
	}

	// Mutating a covered field invalidates both signatures.
	if err := restored.Set("data_size", int64(len(shard))+1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if restored.Verify(RoleRenter) || restored.Verify(RoleFarmer) {
		t.Fatal("signatures must not verify after mutation")
	}
}

func TestContractVerifyRejectsWrongIdentity(t *testing.T) {
	renter := testKeyRing(t)
	farmer := testKeyRing(t)
	impostor := testKeyRing(t)
	c := completeContract(t, renter, farmer, []byte("shard"))

	if err := c.Set("farmer_id", impostor.NodeID()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Sign(RoleFarmer, farmer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if c.Verify(RoleFarmer) {
		t.Fatal("recovered key must match the claimed farmer id")
	}
}

func TestContractSignRequiresDataSize(t *testing.T) {
	renter := testKeyRing(t)
	c, err := NewContract(nil)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	if err := c.Sign(RoleRenter, renter); err == nil {
		t.Fatal("signing without data_size should fail")
	}
}

func TestContractCompareIgnoresPartyFields(t *testing.T) {
	renterA := testKeyRing(t)
	renterB := testKeyRing(t)
	farmerA := testKeyRing(t)
	farmerB := testKeyRing(t)
	shard := []byte("compare shard")

	a := completeContract(t, renterA, farmerA, shard)
	b := completeContract(t, renterB, farmerB, shard)
	// Party fields differ but the agreement terms are identical except for
	// the timestamps set at build time; align those.
	if err := b.Set("store_begin", a.Get("store_begin")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Set("store_end", a.Get("store_end")); err != nil {
		t.Fatalf("set: %v", err)
	}

	if !CompareContracts(a, b) {
		t.Fatal("contracts differing only in party fields should compare equal")
	}
	if err := b.Set("data_size", int64(999)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if CompareContracts(a, b) {
		t.Fatal("data_size difference must break equality")
	}
}

func TestContractDiffNamesChangedFields(t *testing.T) {
	renter := testKeyRing(t)
	farmer := testKeyRing(t)
	a := completeContract(t, renter, farmer, []byte("diff shard"))

	raw, _ := json.Marshal(a)
	b, err := ParseContract(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := DiffContracts(a, b); len(diff) != 0 {
		t.Fatalf("identical contracts diff: %v", diff)
	}

	if err := b.Set("store_end", a.StoreEnd()+1000); err != nil {
		t.Fatalf("set: %v", err)
	}
	diff := DiffContracts(a, b)
	if len(diff) != 1 || diff[0] != "store_end" {
		t.Fatalf("expected [store_end], got %v", diff)
	}
}

func TestContractHDFieldsEncodeAsFalse(t *testing.T) {
	c, err := NewContract(map[string]any{"data_size": 1})
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := m["renter_hd_key"].(bool); !ok || v {
		t.Fatalf("renter_hd_key should encode as false, got %v", m["renter_hd_key"])
	}
	if v, ok := m["renter_hd_index"].(bool); !ok || v {
		t.Fatalf("renter_hd_index should encode as false, got %v", m["renter_hd_index"])
	}
	if m["renter_id"] != nil {
		t.Fatalf("renter_id should encode as null, got %v", m["renter_id"])
	}
}

func TestContractValidation(t *testing.T) {
	begin := time.Now().UnixMilli()
	valid := map[string]any{
		"data_size":   100,
		"data_hash":   Hash160Hex([]byte("x")),
		"store_begin": begin,
		"store_end":   begin + 1000,
	}
	c, err := NewContract(valid)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	if !c.IsValid() {
		t.Fatalf("contract should validate: %v", c.Validate())
	}

	if _, err := NewContract(map[string]any{"data_hash": "not-hex"}); err == nil {
		t.Fatal("bad data_hash should be rejected")
	}
	if _, err := NewContract(map[string]any{"renter_id": "abc"}); err == nil {
		t.Fatal("short renter_id should be rejected")
	}
	if _, err := NewContract(map[string]any{"data_size": -5}); err == nil {
		t.Fatal("negative data_size should be rejected")
	}
	if _, err := NewContract(map[string]any{"renter_hd_index": int64(1) << 31}); err == nil {
		t.Fatal("oversized hd index should be rejected")
	}

	// An inverted store window is schema-invalid.
	c2, err := NewContract(map[string]any{
		"data_size": 1, "store_begin": begin + 1000, "store_end": begin,
	})
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	if c2.IsValid() {
		t.Fatal("inverted store window should not validate")
	}
}
