package core

// contract.go — canonical storage agreement.
//
// A contract is a fixed-schema record; every mutation goes through Set or
// Update which re-apply the schema so unknown keys never persist.  The
// canonical form (sorted keys, signatures stripped, no whitespace) is the
// single signing input for both parties — any serializer divergence is a
// protocol bug, so all JSON here flows through toMap + encoding/json, which
// marshals map keys in sorted order.

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Contract field names in canonical (sorted) order.
var contractFields = []string{
	"audit_count",
	"audit_leaves",
	"data_hash",
	"data_size",
	"farmer_hd_index",
	"farmer_hd_key",
	"farmer_id",
	"farmer_signature",
	"payment_destination",
	"payment_download_price",
	"payment_storage_price",
	"renter_hd_index",
	"renter_hd_key",
	"renter_id",
	"renter_signature",
	"store_begin",
	"store_end",
	"version",
}

// Roles a contract can be signed under.
const (
	RoleRenter = "renter"
	RoleFarmer = "farmer"
)

const maxHDIndex = 1<<31 - 1

// Contract is the storage agreement between a renter and a farmer.  Nullable
// fields are pointers; the HD key/index pairs use "" and nil to stand for the
// wire value false.
type Contract struct {
	version              int64
	renterID             *string
	renterHDKey          string
	renterHDIndex        *uint32
	renterSignature      *string
	farmerID             *string
	farmerHDKey          string
	farmerHDIndex        *uint32
	farmerSignature      *string
	dataSize             int64
	dataHash             *string
	storeBegin           int64
	storeEnd             int64
	auditCount           int64
	auditLeaves          []string
	paymentStoragePrice  int64
	paymentDownloadPrice int64
	paymentDestination   *string
}

// NewContract builds a contract from defaults overlaid with fields.  Unknown
// keys are dropped, mistyped values are rejected.
func NewContract(fields map[string]any) (*Contract, error) {
	c := &Contract{version: 1}
	if err := c.Update(fields); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseContract decodes a wire-form contract object.
func ParseContract(raw []byte) (*Contract, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	return NewContract(m)
}

// Update overlays fields onto the contract, dropping unknown keys.
func (c *Contract) Update(fields map[string]any) error {
	for _, name := range contractFields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if err := c.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one schema field.  Values may arrive as native Go types or as
// decoded JSON (json.Number, float64, bool, nil).
func (c *Contract) Set(name string, value any) error {
	switch name {
	case "version":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: version", ErrInvalidDescriptor)
		}
		c.version = n
	case "renter_id":
		return setHexID(&c.renterID, value)
	case "farmer_id":
		return setHexID(&c.farmerID, value)
	case "renter_hd_key":
		return setHDKey(&c.renterHDKey, value)
	case "farmer_hd_key":
		return setHDKey(&c.farmerHDKey, value)
	case "renter_hd_index":
		return setHDIndex(&c.renterHDIndex, value)
	case "farmer_hd_index":
		return setHDIndex(&c.farmerHDIndex, value)
	case "renter_signature":
		return setSignature(&c.renterSignature, value)
	case "farmer_signature":
		return setSignature(&c.farmerSignature, value)
	case "data_size":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: data_size", ErrInvalidDescriptor)
		}
		c.dataSize = n
	case "data_hash":
		if value == nil {
			c.dataHash = nil
			return nil
		}
		s, ok := value.(string)
		if !ok || !isHexHash(s) {
			return fmt.Errorf("%w: data_hash", ErrInvalidDescriptor)
		}
		c.dataHash = &s
	case "store_begin":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: store_begin", ErrInvalidDescriptor)
		}
		c.storeBegin = n
	case "store_end":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: store_end", ErrInvalidDescriptor)
		}
		c.storeEnd = n
	case "audit_count":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: audit_count", ErrInvalidDescriptor)
		}
		c.auditCount = n
	case "audit_leaves":
		leaves, err := toHexList(value)
		if err != nil {
			return fmt.Errorf("%w: audit_leaves", ErrInvalidDescriptor)
		}
		c.auditLeaves = leaves
	case "payment_storage_price":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: payment_storage_price", ErrInvalidDescriptor)
		}
		c.paymentStoragePrice = n
	case "payment_download_price":
		n, ok := toInt64(value)
		if !ok || n < 0 {
			return fmt.Errorf("%w: payment_download_price", ErrInvalidDescriptor)
		}
		c.paymentDownloadPrice = n
	case "payment_destination":
		if value == nil {
			c.paymentDestination = nil
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: payment_destination", ErrInvalidDescriptor)
		}
		c.paymentDestination = &s
	default:
		// Unknown keys never persist.
		return nil
	}
	return nil
}

// Get returns the canonical value for a schema field, nil for unknown names.
func (c *Contract) Get(name string) any {
	return c.toMap(true)[name]
}

// Typed accessors for the fields the rest of the node consumes.

func (c *Contract) DataHash() string {
	if c.dataHash == nil {
		return ""
	}
	return *c.dataHash
}

func (c *Contract) DataSize() int64  { return c.dataSize }
func (c *Contract) StoreBegin() int64 { return c.storeBegin }
func (c *Contract) StoreEnd() int64   { return c.storeEnd }
func (c *Contract) AuditCount() int64 { return c.auditCount }

func (c *Contract) AuditLeaves() []string {
	out := make([]string, len(c.auditLeaves))
	copy(out, c.auditLeaves)
	return out
}

func (c *Contract) RenterID() string { return derefStr(c.renterID) }
func (c *Contract) FarmerID() string { return derefStr(c.farmerID) }
func (c *Contract) RenterHDKey() string { return c.renterHDKey }
func (c *Contract) FarmerHDKey() string { return c.farmerHDKey }

// toMap renders the contract as canonical JSON-ready values.  Signature
// fields are omitted when withSigs is false.
func (c *Contract) toMap(withSigs bool) map[string]any {
	m := map[string]any{
		"version":                c.version,
		"renter_id":              strOrNil(c.renterID),
		"renter_hd_key":          hdKeyValue(c.renterHDKey),
		"renter_hd_index":        hdIndexValue(c.renterHDIndex),
		"farmer_id":              strOrNil(c.farmerID),
		"farmer_hd_key":          hdKeyValue(c.farmerHDKey),
		"farmer_hd_index":        hdIndexValue(c.farmerHDIndex),
		"data_size":              c.dataSize,
		"data_hash":              strOrNil(c.dataHash),
		"store_begin":            c.storeBegin,
		"store_end":              c.storeEnd,
		"audit_count":            c.auditCount,
		"audit_leaves":           c.auditLeaves,
		"payment_storage_price":  c.paymentStoragePrice,
		"payment_download_price": c.paymentDownloadPrice,
		"payment_destination":    strOrNil(c.paymentDestination),
	}
	if c.auditLeaves == nil {
		m["audit_leaves"] = []string{}
	}
	if withSigs {
		m["renter_signature"] = strOrNil(c.renterSignature)
		m["farmer_signature"] = strOrNil(c.farmerSignature)
	}
	return m
}

// MarshalJSON emits the full wire object with sorted keys.
func (c *Contract) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toMap(true))
}

// UnmarshalJSON decodes a wire object, dropping unknown keys.
func (c *Contract) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseContract(raw)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// SigningData returns the canonical form both parties sign: sorted keys, no
// whitespace, signature fields removed.
func (c *Contract) SigningData() []byte {
	data, err := json.Marshal(c.toMap(false))
	if err != nil {
		// toMap only holds JSON-safe values.
		panic(err)
	}
	return data
}

// Sign computes the recoverable signature over the canonical form and stores
// it under <role>_signature.  Validity is not required at signing time, but a
// contract without shard bytes is never signable.
func (c *Contract) Sign(role string, keys *KeyRing) error {
	if c.dataSize <= 0 {
		return fmt.Errorf("%w: data_size must be positive before signing", ErrInvalidDescriptor)
	}
	digest := sha256.Sum256(c.SigningData())
	sig, err := keys.SignDigest(digest[:])
	if err != nil {
		return err
	}
	switch role {
	case RoleRenter:
		c.renterSignature = &sig
	case RoleFarmer:
		c.farmerSignature = &sig
	default:
		return fmt.Errorf("unknown contract role %q", role)
	}
	return nil
}

// Verify recovers the signer's public key from <role>_signature and checks
// both that the signature covers the canonical form and that the recovered
// key hashes to the claimed <role>_id.
func (c *Contract) Verify(role string) bool {
	var sig *string
	var id *string
	switch role {
	case RoleRenter:
		sig, id = c.renterSignature, c.renterID
	case RoleFarmer:
		sig, id = c.farmerSignature, c.farmerID
	default:
		return false
	}
	if sig == nil || id == nil {
		return false
	}
	digest := sha256.Sum256(c.SigningData())
	pub, err := RecoverSigner(digest[:], *sig)
	if err != nil {
		return false
	}
	return Hash160Hex(pub) == *id
}

// Validate checks every field against the schema.
func (c *Contract) Validate() error {
	if c.version < 0 {
		return fmt.Errorf("%w: version", ErrInvalidDescriptor)
	}
	for name, id := range map[string]*string{"renter_id": c.renterID, "farmer_id": c.farmerID} {
		if id != nil && !isHexHash(*id) {
			return fmt.Errorf("%w: %s", ErrInvalidDescriptor, name)
		}
	}
	for name, key := range map[string]string{"renter_hd_key": c.renterHDKey, "farmer_hd_key": c.farmerHDKey} {
		if key != "" {
			if err := ValidateExtendedKey(key); err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDescriptor, name)
			}
		}
	}
	for name, sig := range map[string]*string{"renter_signature": c.renterSignature, "farmer_signature": c.farmerSignature} {
		if sig != nil {
			if _, err := base64.StdEncoding.DecodeString(*sig); err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDescriptor, name)
			}
		}
	}
	if c.dataHash != nil && !isHexHash(*c.dataHash) {
		return fmt.Errorf("%w: data_hash", ErrInvalidDescriptor)
	}
	if c.storeBegin >= c.storeEnd {
		return fmt.Errorf("%w: store window", ErrInvalidDescriptor)
	}
	for _, leaf := range c.auditLeaves {
		if !isHexHash(leaf) {
			return fmt.Errorf("%w: audit_leaves", ErrInvalidDescriptor)
		}
	}
	return nil
}

// IsValid reports whether every field matches the schema.
func (c *Contract) IsValid() bool { return c.Validate() == nil }

// IsComplete reports validity plus the absence of any null field.
func (c *Contract) IsComplete() bool {
	if !c.IsValid() {
		return false
	}
	return c.renterID != nil && c.farmerID != nil &&
		c.renterSignature != nil && c.farmerSignature != nil &&
		c.dataHash != nil && c.paymentDestination != nil
}

// CompareContracts reports equality of two contracts after stripping the
// party-specific fields (ids, signatures, payment destination).
func CompareContracts(a, b *Contract) bool {
	stripped := map[string]struct{}{
		"renter_id":           {},
		"renter_signature":    {},
		"farmer_id":           {},
		"farmer_signature":    {},
		"payment_destination": {},
	}
	am, bm := a.toMap(true), b.toMap(true)
	for _, name := range contractFields {
		if _, skip := stripped[name]; skip {
			continue
		}
		if !reflect.DeepEqual(am[name], bm[name]) {
			return false
		}
	}
	return true
}

// DiffContracts returns the names of fields whose values differ.
func DiffContracts(a, b *Contract) []string {
	am, bm := a.toMap(true), b.toMap(true)
	var diff []string
	for _, name := range contractFields {
		if !reflect.DeepEqual(am[name], bm[name]) {
			diff = append(diff, name)
		}
	}
	return diff
}

// ---------------------------------------------------------------------------
// Field coercion helpers
// ---------------------------------------------------------------------------

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func toHexList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("not a string list")
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, errors.New("not a list")
	}
}

func setHexID(dst **string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	s, ok := v.(string)
	if !ok || !isHexHash(s) {
		return fmt.Errorf("%w: node id", ErrInvalidDescriptor)
	}
	*dst = &s
	return nil
}

func setHDKey(dst *string, v any) error {
	switch key := v.(type) {
	case bool:
		if key {
			return fmt.Errorf("%w: hd key", ErrInvalidDescriptor)
		}
		*dst = ""
	case string:
		if err := ValidateExtendedKey(key); err != nil {
			return fmt.Errorf("%w: hd key", ErrInvalidDescriptor)
		}
		*dst = key
	default:
		return fmt.Errorf("%w: hd key", ErrInvalidDescriptor)
	}
	return nil
}

func setHDIndex(dst **uint32, v any) error {
	if b, ok := v.(bool); ok {
		if b {
			return fmt.Errorf("%w: hd index", ErrInvalidDescriptor)
		}
		*dst = nil
		return nil
	}
	n, ok := toInt64(v)
	if !ok || n < 0 || n > maxHDIndex {
		return fmt.Errorf("%w: hd index", ErrInvalidDescriptor)
	}
	idx := uint32(n)
	*dst = &idx
	return nil
}

func setSignature(dst **string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%w: signature", ErrInvalidDescriptor)
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return fmt.Errorf("%w: signature", ErrInvalidDescriptor)
	}
	*dst = &s
	return nil
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func hdKeyValue(key string) any {
	if key == "" {
		return false
	}
	return key
}

func hdIndexValue(idx *uint32) any {
	if idx == nil {
		return false
	}
	return *idx
}
