package core

// rules.go — handlers for the wire methods.
//
// Every handler validates its input before touching any store, treats store
// and transport calls as suspension points, and returns a typed error when
// the request must be rejected; the transport maps that to the wire-level
// { error: { message } } form.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// MaxConcurrentAudits caps parallel proof generation inside one AUDIT batch.
const MaxConcurrentAudits = 6

// DefaultConsignThreshold is the forward slack allowed between a CONSIGN and
// the contract's store_begin, tolerating clock skew between peers.
const DefaultConsignThreshold = 24 * time.Hour

// AuditChallenge is one entry of an AUDIT request batch.
type AuditChallenge struct {
	Hash      string `json:"hash"`
	Challenge string `json:"challenge"`
}

// AuditProof is the per-entry reply; Proof is null when the shard or its
// audit state could not be loaded.
type AuditProof struct {
	Hash  string          `json:"hash"`
	Proof json.RawMessage `json:"proof"`
}

// TriggerFunc processes TRIGGER requests on behalf of the embedding
// application.
type TriggerFunc func(ctx context.Context, req *Request) (any, error)

// RulesOptions wire a rule set.
type RulesOptions struct {
	Keys             *KeyRing
	Manager          *StorageManager
	Server           *ShardServer
	Offers           *OfferRegistry
	Transport        Transport
	Shards           *ShardClient
	Clock            clock.Clock
	ConsignThreshold time.Duration
	Logger           *logrus.Logger
}

// Rules binds storage, contracts, offers and tokens to the wire methods.
type Rules struct {
	keys             *KeyRing
	manager          *StorageManager
	server           *ShardServer
	offers           *OfferRegistry
	transport        Transport
	shards           *ShardClient
	clock            clock.Clock
	consignThreshold time.Duration
	logger           *logrus.Logger

	triggerMu sync.RWMutex
	trigger   TriggerFunc
}

func NewRules(opts RulesOptions) *Rules {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ConsignThreshold <= 0 {
		opts.ConsignThreshold = DefaultConsignThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Rules{
		keys:             opts.Keys,
		manager:          opts.Manager,
		server:           opts.Server,
		offers:           opts.Offers,
		transport:        opts.Transport,
		shards:           opts.Shards,
		clock:            opts.Clock,
		consignThreshold: opts.ConsignThreshold,
		logger:           opts.Logger,
	}
}

// SetTriggerProcessor installs the TRIGGER pass-through.
func (r *Rules) SetTriggerProcessor(fn TriggerFunc) {
	r.triggerMu.Lock()
	r.trigger = fn
	r.triggerMu.Unlock()
}

// Register installs every handler on the transport.  PING is included so a
// probed peer answers even when the routing collaborator does not claim it.
func (r *Rules) Register(t Transport) {
	t.Register(MethodOffer, r.HandleOffer)
	t.Register(MethodAudit, r.HandleAudit)
	t.Register(MethodConsign, r.HandleConsign)
	t.Register(MethodMirror, r.HandleMirror)
	t.Register(MethodRetrieve, r.HandleRetrieve)
	t.Register(MethodProbe, r.HandleProbe)
	t.Register(MethodRenew, r.HandleRenew)
	t.Register(MethodTrigger, r.HandleTrigger)
	t.Register(MethodPing, func(context.Context, *Request) (any, error) {
		return map[string]any{}, nil
	})
}

// HandleOffer validates a farmer's counter-offer, countersigns it and hands
// it to the contract's offer stream.  The reply is deferred until the
// consumer resolves the offer.
func (r *Rules) HandleOffer(ctx context.Context, req *Request) (any, error) {
	var raw json.RawMessage
	if err := req.Param(0, &raw); err != nil {
		return nil, ErrInvalidDescriptor
	}
	contract, err := ParseContract(raw)
	if err != nil {
		return nil, ErrInvalidDescriptor
	}
	if !contract.IsValid() {
		return nil, ErrInvalidDescriptor
	}
	if contract.FarmerID() != req.Contact.NodeID {
		return nil, ErrInvalidSignature
	}
	if !contract.Verify(RoleFarmer) {
		return nil, ErrInvalidSignature
	}
	if err := contract.Sign(RoleRenter, r.keys); err != nil {
		return nil, err
	}
	if !contract.IsComplete() {
		return nil, ErrIncompleteContract
	}

	stream, ok := r.offers.Get(contract.DataHash())
	if !ok {
		r.offers.notifyUnhandled(req.Contact, contract)
		return nil, ErrOffersClosed
	}

	offer := NewOffer(req.Contact, contract)
	if err := stream.Enqueue(offer); err != nil {
		return nil, err
	}
	final, err := offer.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contract": final}, nil
}

// HandleAudit answers a challenge batch.  Entries fail independently — a
// missing shard degrades to a null proof, never to a batch failure — and
// replies preserve request order.
func (r *Rules) HandleAudit(ctx context.Context, req *Request) (any, error) {
	var audits []AuditChallenge
	if err := req.Param(0, &audits); err != nil || len(audits) == 0 {
		return nil, fmt.Errorf("%w: audit batch", ErrInvalidDescriptor)
	}

	proofs := make([]AuditProof, len(audits))
	sem := make(chan struct{}, MaxConcurrentAudits)
	var wg sync.WaitGroup
	for i, audit := range audits {
		wg.Add(1)
		go func(i int, audit AuditChallenge) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			proof, err := r.proveShard(ctx, audit, req.Contact.NodeID)
			if err != nil {
				r.logger.Warnf("audit of %s failed: %v", audit.Hash, err)
				proofs[i] = AuditProof{Hash: audit.Hash, Proof: nil}
				return
			}
			proofs[i] = AuditProof{Hash: audit.Hash, Proof: proof}
		}(i, audit)
	}
	wg.Wait()

	return map[string]any{"proofs": proofs}, nil
}

func (r *Rules) proveShard(ctx context.Context, audit AuditChallenge, senderID string) (json.RawMessage, error) {
	item, err := r.manager.Load(ctx, audit.Hash)
	if err != nil {
		return nil, err
	}
	if _, ok := item.Contract(senderID); !ok {
		return nil, ErrNotAuthorized
	}
	leaves, ok := item.Trees[senderID]
	if !ok || len(leaves) == 0 {
		return nil, ErrProofGeneration
	}

	reader, err := r.manager.OpenShardReader(ctx, audit.Hash)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stream, err := NewProofStream(leaves, audit.Challenge)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(stream, reader); err != nil {
		return nil, err
	}
	if err := stream.Finish(); err != nil {
		return nil, err
	}
	node, err := stream.Proof()
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

// HandleConsign authorizes a renter to push shard bytes inside the contract
// window and returns the PUSH token.
func (r *Rules) HandleConsign(ctx context.Context, req *Request) (any, error) {
	var hash string
	if err := req.Param(0, &hash); err != nil || !isHexHash(hash) {
		return nil, ErrInvalidDescriptor
	}

	contract, err := r.manager.ContractFor(ctx, hash, req.Contact.NodeID)
	if err != nil {
		return nil, ErrNotAuthorized
	}

	now := r.clock.Now().UnixMilli()
	// Strict window: before store_end, and no earlier than the threshold
	// ahead of store_begin.
	if now >= contract.StoreEnd() || now+r.consignThreshold.Milliseconds() <= contract.StoreBegin() {
		return nil, ErrContractExpired
	}

	token, err := NewTransferToken()
	if err != nil {
		return nil, err
	}
	r.server.Accept(token, hash, req.Contact, OpPush)
	return map[string]any{"token": token}, nil
}

// HandleRetrieve authorizes a download of stored shard bytes.
func (r *Rules) HandleRetrieve(ctx context.Context, req *Request) (any, error) {
	var hash string
	if err := req.Param(0, &hash); err != nil || !isHexHash(hash) {
		return nil, ErrInvalidDescriptor
	}

	has, err := r.manager.HasShard(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrShardNotFound
	}

	token, err := NewTransferToken()
	if err != nil {
		return nil, err
	}
	r.server.Accept(token, hash, req.Contact, OpPull)
	return map[string]any{"token": token}, nil
}

// HandleMirror replicates a shard from the source peer.  A shard already on
// disk is acknowledged without a transfer.
func (r *Rules) HandleMirror(ctx context.Context, req *Request) (any, error) {
	var hash, token string
	var source Contact
	if err := req.Param(0, &hash); err != nil || !isHexHash(hash) {
		return nil, ErrInvalidDescriptor
	}
	if err := req.Param(1, &token); err != nil || token == "" {
		return nil, ErrInvalidDescriptor
	}
	if err := req.Param(2, &source); err != nil || source.NodeID == "" {
		return nil, ErrInvalidDescriptor
	}

	if _, err := r.manager.ContractFor(ctx, hash, req.Contact.NodeID); err != nil {
		return nil, ErrNoContract
	}

	has, err := r.manager.HasShard(ctx, hash)
	if err != nil {
		return nil, err
	}
	if has {
		return map[string]any{}, nil
	}

	reader, err := r.shards.Download(ctx, source, hash, token)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := r.manager.OpenShardWriter(ctx, hash)
	if err != nil {
		return nil, err
	}
	digest := newHash160Writer()
	if _, err := io.Copy(io.MultiWriter(writer, digest), reader); err != nil {
		_ = writer.Abort()
		return nil, fmt.Errorf("mirror transfer: %w", err)
	}
	if digest.Sum160Hex() != hash {
		_ = writer.Abort()
		return nil, ErrHashMismatch
	}
	if err := writer.Commit(); err != nil {
		return nil, err
	}
	r.logger.Infof("mirrored shard %s from %s", hash, source.NodeID)
	return map[string]any{}, nil
}

// HandleProbe pings the requester's stated contact to determine whether it
// is publicly addressable.
func (r *Rules) HandleProbe(ctx context.Context, req *Request) (any, error) {
	if _, err := r.transport.Send(ctx, req.Contact, MethodPing); err != nil {
		return nil, ErrProbeFailed
	}
	return map[string]any{}, nil
}

// Fields a renewal may never change.
var restrictedRenewalFields = []string{
	"renter_id",
	"renter_hd_key",
	"farmer_id",
	"farmer_hd_key",
	"data_size",
	"data_hash",
}

// HandleRenew replaces the stored contract with the renter's updated copy,
// provided only mutable fields changed, and countersigns it.
func (r *Rules) HandleRenew(ctx context.Context, req *Request) (any, error) {
	var raw json.RawMessage
	if err := req.Param(0, &raw); err != nil {
		return nil, ErrInvalidDescriptor
	}
	updated, err := ParseContract(raw)
	if err != nil {
		return nil, ErrInvalidDescriptor
	}
	if !updated.IsComplete() {
		return nil, ErrIncompleteContract
	}
	if !updated.Verify(RoleRenter) {
		return nil, ErrInvalidSignature
	}

	hash := updated.DataHash()
	item, err := r.manager.Load(ctx, hash)
	if err != nil {
		return nil, ErrNoContract
	}
	current, ok := item.ContractByHDKey(updated.RenterHDKey())
	if !ok {
		current, ok = item.Contract(req.Contact.NodeID)
	}
	if !ok {
		return nil, ErrNoContract
	}

	diff := DiffContracts(current, updated)
	for _, field := range diff {
		for _, restricted := range restrictedRenewalFields {
			if field == restricted {
				return nil, ErrRestrictedRenewal
			}
		}
	}

	if err := updated.Sign(RoleFarmer, r.keys); err != nil {
		return nil, err
	}
	if !updated.IsComplete() {
		return nil, ErrIncompleteContract
	}

	err = r.manager.Mutate(ctx, hash, func(item *StorageItem) error {
		replaced := false
		for key, c := range item.Contracts {
			if c.RenterHDKey() != "" && c.RenterHDKey() == updated.RenterHDKey() {
				item.Contracts[key] = updated
				replaced = true
				break
			}
		}
		if !replaced {
			item.AddContract(req.Contact.NodeID, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Infof("renewed contract for %s with %s", hash, req.Contact.NodeID)
	return map[string]any{"contract": updated}, nil
}

// HandleTrigger forwards to the registered trigger processor.
func (r *Rules) HandleTrigger(ctx context.Context, req *Request) (any, error) {
	r.triggerMu.RLock()
	fn := r.trigger
	r.triggerMu.RUnlock()
	if fn == nil {
		return nil, errors.New("No trigger processor registered")
	}
	return fn(ctx, req)
}
