package core

// node.go — the storage node surface.
//
// A Node composes the stores, rule set, shard server, transport and pub/sub
// collaborator explicitly — no subclassing of the routing layer; the
// transport exposes register(method, handler) and the node wires Rules into
// it at construction.  The methods below are the renter/farmer client
// surface: thin wrappers that marshal a request, send it and validate the
// response.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// NodeOptions assemble a node from its collaborators.
type NodeOptions struct {
	Keys      *KeyRing
	Contact   Contact
	Manager   *StorageManager
	Transport Transport
	PubSub    PubSub
	Server    *ShardServer
	Shards    *ShardClient

	Clock            clock.Clock
	ConsignThreshold time.Duration
	MaxOffers        int
	PaymentAddress   string
	Logger           *logrus.Logger
}

// Node binds the rule set to the transport and owns all long-lived stores.
type Node struct {
	keys      *KeyRing
	contact   Contact
	manager   *StorageManager
	transport Transport
	pubsub    PubSub
	server    *ShardServer
	shards    *ShardClient
	offers    *OfferRegistry
	rules     *Rules
	router    *ContactRouter
	clock     clock.Clock
	logger    *logrus.Logger

	maxOffers      int
	paymentAddress string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode wires the collaborators together and registers the rules.
func NewNode(opts NodeOptions) (*Node, error) {
	if opts.Keys == nil || opts.Manager == nil || opts.Transport == nil {
		return nil, fmt.Errorf("keys, manager and transport are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = DefaultMaxOffers
	}
	if opts.Shards == nil {
		opts.Shards = NewShardClient(ResponseTimeout*10, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		keys:           opts.Keys,
		contact:        opts.Contact,
		manager:        opts.Manager,
		transport:      opts.Transport,
		pubsub:         opts.PubSub,
		server:         opts.Server,
		shards:         opts.Shards,
		offers:         NewOfferRegistry(),
		router:         NewContactRouter(opts.Contact.NodeID),
		clock:          opts.Clock,
		logger:         opts.Logger,
		maxOffers:      opts.MaxOffers,
		paymentAddress: opts.PaymentAddress,
		ctx:            ctx,
		cancel:         cancel,
	}
	n.rules = NewRules(RulesOptions{
		Keys:             opts.Keys,
		Manager:          opts.Manager,
		Server:           opts.Server,
		Offers:           n.offers,
		Transport:        opts.Transport,
		Shards:           opts.Shards,
		Clock:            opts.Clock,
		ConsignThreshold: opts.ConsignThreshold,
		Logger:           opts.Logger,
	})
	n.rules.Register(opts.Transport)
	return n, nil
}

// Contact returns the node's own contact record.
func (n *Node) Contact() Contact { return n.contact }

// Keys exposes the node keyring.
func (n *Node) Keys() *KeyRing { return n.keys }

// Manager exposes the storage manager.
func (n *Node) Manager() *StorageManager { return n.manager }

// Offers exposes the offer registry (hook registration, teardown).
func (n *Node) Offers() *OfferRegistry { return n.offers }

// Router exposes the local contact cache.
func (n *Node) Router() *ContactRouter { return n.router }

// SetTriggerProcessor installs the TRIGGER pass-through.
func (n *Node) SetTriggerProcessor(fn TriggerFunc) { n.rules.SetTriggerProcessor(fn) }

// Close tears down streams and collaborators.
func (n *Node) Close() error {
	n.cancel()
	n.offers.CloseAll()
	if n.pubsub != nil {
		if err := n.pubsub.Close(); err != nil {
			n.logger.Warnf("pubsub close: %v", err)
		}
	}
	if n.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return n.server.Shutdown(shutdownCtx)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Renter surface
// ---------------------------------------------------------------------------

// PublishShardDescriptor announces a contract on its criteria topic and
// opens the offer stream collecting counter-offers.
func (n *Node) PublishShardDescriptor(ctx context.Context, contract *Contract, opts OfferStreamOptions) (*OfferStream, error) {
	if err := contract.Update(map[string]any{
		"renter_id":       n.keys.NodeID(),
		"renter_hd_key":   hdKeyValue(n.keys.HDKey()),
		"renter_hd_index": hdIndexFieldValue(n.keys),
	}); err != nil {
		return nil, err
	}
	if !contract.IsValid() {
		return nil, ErrInvalidDescriptor
	}
	hash := contract.DataHash()
	if hash == "" {
		return nil, ErrInvalidDescriptor
	}
	if _, exists := n.offers.Get(hash); exists {
		return nil, fmt.Errorf("descriptor %s is already published", hash)
	}
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = n.maxOffers
	}

	stream := NewOfferStream(contract, opts, n.logger)
	n.offers.Register(hash, stream)

	data, err := json.Marshal(contract)
	if err != nil {
		n.offers.Remove(hash)
		return nil, err
	}
	if err := n.pubsub.Publish(ctx, contract.TopicHex(), data); err != nil {
		n.offers.Remove(hash)
		return nil, fmt.Errorf("publish descriptor: %w", err)
	}
	n.logger.Infof("published descriptor %s on topic %s", hash, contract.TopicHex())
	return stream, nil
}

// SubscribeShardDescriptor merges the given topic codes into one stream of
// valid contracts.
func (n *Node) SubscribeShardDescriptor(topicCodes []string) (<-chan *Contract, error) {
	out := make(chan *Contract, 16)
	if len(topicCodes) == 0 {
		close(out)
		return out, nil
	}
	done := make(chan struct{}, len(topicCodes))
	for _, code := range topicCodes {
		ch, err := n.pubsub.Subscribe(code)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", code, err)
		}
		go func(code string, ch <-chan PubMessage) {
			defer func() { done <- struct{}{} }()
			for msg := range ch {
				contract, err := ParseContract(msg.Data)
				if err != nil {
					n.logger.Debugf("dropping malformed descriptor on %s: %v", code, err)
					continue
				}
				if !contract.IsValid() {
					continue
				}
				select {
				case out <- contract:
				case <-n.ctx.Done():
					return
				}
			}
		}(code, ch)
	}
	go func() {
		for i := 0; i < len(topicCodes); i++ {
			<-done
		}
		close(out)
	}()
	return out, nil
}

// AcceptOffer persists the pairing from an offer and resolves the farmer's
// pending OFFER request with the completed contract.  The audit stream holds
// the renter's challenge state generated for this shard.
func (n *Node) AcceptOffer(ctx context.Context, offer *Offer, audit *AuditStream) error {
	contract := offer.Contract
	farmerID := offer.Contact.NodeID

	err := n.manager.Mutate(ctx, contract.DataHash(), func(item *StorageItem) error {
		item.AddContract(farmerID, contract)
		if audit != nil {
			public, err := audit.PublicRecord()
			if err != nil {
				return err
			}
			private, err := audit.PrivateRecord()
			if err != nil {
				return err
			}
			item.AddAuditTree(farmerID, public)
			item.AddAuditRecord(farmerID, private)
		}
		return nil
	})
	if err != nil {
		offer.Reject(err)
		return err
	}
	n.router.Add(offer.Contact)
	offer.Accept(contract)
	return nil
}

// AuthorizeConsignment requests PUSH tokens for hashes from the farmer.
func (n *Node) AuthorizeConsignment(ctx context.Context, peer Contact, hashes []string) ([]string, error) {
	return n.collectTokens(ctx, peer, MethodConsign, hashes)
}

// AuthorizeRetrieval requests PULL tokens for hashes from the farmer.
func (n *Node) AuthorizeRetrieval(ctx context.Context, peer Contact, hashes []string) ([]string, error) {
	return n.collectTokens(ctx, peer, MethodRetrieve, hashes)
}

func (n *Node) collectTokens(ctx context.Context, peer Contact, method string, hashes []string) ([]string, error) {
	tokens := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		raw, err := n.transport.Send(ctx, peer, method, hash)
		if err != nil {
			return nil, err
		}
		var result struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(raw, &result); err != nil || result.Token == "" {
			return nil, fmt.Errorf("malformed %s response from %s", method, peer.NodeID)
		}
		tokens = append(tokens, result.Token)
	}
	return tokens, nil
}

// ConsignShard uploads shard bytes to the farmer under a fresh PUSH token.
func (n *Node) ConsignShard(ctx context.Context, peer Contact, hash string, data io.Reader) error {
	tokens, err := n.AuthorizeConsignment(ctx, peer, []string{hash})
	if err != nil {
		return err
	}
	return n.shards.Upload(ctx, peer, hash, tokens[0], data)
}

// RetrieveShard downloads shard bytes from the farmer under a PULL token.
// The caller owns the returned reader.
func (n *Node) RetrieveShard(ctx context.Context, peer Contact, hash string) (io.ReadCloser, error) {
	tokens, err := n.AuthorizeRetrieval(ctx, peer, []string{hash})
	if err != nil {
		return nil, err
	}
	return n.shards.Download(ctx, peer, hash, tokens[0])
}

// AuditRemoteShards sends a challenge batch and returns the ordered proofs.
func (n *Node) AuditRemoteShards(ctx context.Context, peer Contact, audits []AuditChallenge) ([]AuditProof, error) {
	raw, err := n.transport.Send(ctx, peer, MethodAudit, audits)
	if err != nil {
		return nil, err
	}
	var result struct {
		Proofs []AuditProof `json:"proofs"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed AUDIT response: %w", err)
	}
	if len(result.Proofs) != len(audits) {
		return nil, fmt.Errorf("AUDIT response arity %d != %d", len(result.Proofs), len(audits))
	}
	return result.Proofs, nil
}

// VerifyAuditProof checks one returned proof against the stored private
// record for the peer.
func (n *Node) VerifyAuditProof(ctx context.Context, hash, peerID string, proof json.RawMessage) error {
	item, err := n.manager.Load(ctx, hash)
	if err != nil {
		return err
	}
	record, ok := item.Challenges[peerID]
	if !ok {
		return fmt.Errorf("no audit record for %s", peerID)
	}
	var node ProofNode
	if err := json.Unmarshal(proof, &node); err != nil {
		return fmt.Errorf("malformed proof: %w", err)
	}
	expected, computed, err := VerifyProof(&node, record.Root, record.Depth)
	if err != nil {
		return err
	}
	if expected != computed {
		return fmt.Errorf("audit root mismatch: expected %s computed %s", expected, computed)
	}
	return nil
}

// CreateShardMirror authorizes retrieval at the source and instructs the
// target to replicate the shard.
func (n *Node) CreateShardMirror(ctx context.Context, source, target Contact, hash string) error {
	tokens, err := n.AuthorizeRetrieval(ctx, source, []string{hash})
	if err != nil {
		return err
	}
	if _, err := n.transport.Send(ctx, target, MethodMirror, hash, tokens[0], source); err != nil {
		return err
	}
	return nil
}

// GetMirrorNodes replicates to several targets, tolerating partial failure:
// the call succeeds when at least one mirror lands.
func (n *Node) GetMirrorNodes(ctx context.Context, source Contact, targets []Contact, hash string) ([]Contact, error) {
	var established []Contact
	var lastErr error
	for _, target := range targets {
		if err := n.CreateShardMirror(ctx, source, target, hash); err != nil {
			n.logger.Warnf("mirror to %s failed: %v", target.NodeID, err)
			lastErr = err
			continue
		}
		established = append(established, target)
	}
	if len(established) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no mirror targets supplied")
		}
		return nil, fmt.Errorf("all mirror requests failed: %w", lastErr)
	}
	return established, nil
}

// RequestContractRenewal sends the re-signed contract and validates the
// farmer's countersigned reply.
func (n *Node) RequestContractRenewal(ctx context.Context, peer Contact, contract *Contract) (*Contract, error) {
	if err := contract.Sign(RoleRenter, n.keys); err != nil {
		return nil, err
	}
	raw, err := n.transport.Send(ctx, peer, MethodRenew, contract)
	if err != nil {
		return nil, err
	}
	renewed, err := parseContractResult(raw)
	if err != nil {
		return nil, err
	}
	if !renewed.IsComplete() || !renewed.Verify(RoleFarmer) {
		return nil, ErrInvalidSignature
	}
	err = n.manager.Mutate(ctx, renewed.DataHash(), func(item *StorageItem) error {
		item.AddContract(peer.NodeID, renewed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

// Probe asks peer to verify this node's public addressability.
func (n *Node) Probe(ctx context.Context, peer Contact) error {
	_, err := n.transport.Send(ctx, peer, MethodProbe)
	return err
}

// ---------------------------------------------------------------------------
// Farmer surface
// ---------------------------------------------------------------------------

// OfferShardAllocation counter-signs a received descriptor and sends the
// OFFER; the renter's completed contract is validated and persisted.
func (n *Node) OfferShardAllocation(ctx context.Context, renter Contact, descriptor *Contract) (*Contract, error) {
	fields := map[string]any{
		"farmer_id":       n.keys.NodeID(),
		"farmer_hd_key":   hdKeyValue(n.keys.HDKey()),
		"farmer_hd_index": hdIndexFieldValue(n.keys),
	}
	if n.paymentAddress != "" {
		fields["payment_destination"] = n.paymentAddress
	}
	if err := descriptor.Update(fields); err != nil {
		return nil, err
	}
	if err := descriptor.Sign(RoleFarmer, n.keys); err != nil {
		return nil, err
	}

	raw, err := n.transport.Send(ctx, renter, MethodOffer, descriptor)
	if err != nil {
		return nil, err
	}
	contract, err := parseContractResult(raw)
	if err != nil {
		return nil, err
	}
	if !contract.IsValid() || !contract.IsComplete() {
		return nil, ErrIncompleteContract
	}
	if !contract.Verify(RoleRenter) {
		return nil, ErrInvalidSignature
	}
	if contract.DataHash() != descriptor.DataHash() {
		return nil, ErrInvalidDescriptor
	}

	err = n.manager.Mutate(ctx, contract.DataHash(), func(item *StorageItem) error {
		item.AddContract(renter.NodeID, contract)
		item.AddAuditTree(renter.NodeID, contract.AuditLeaves())
		item.SetMeta(renter.NodeID, "renter_hd_key", contract.RenterHDKey())
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.router.Add(renter)
	n.logger.Infof("stored contract %s with renter %s", contract.DataHash(), renter.NodeID)
	return contract, nil
}

func parseContractResult(raw json.RawMessage) (*Contract, error) {
	var result struct {
		Contract json.RawMessage `json:"contract"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Contract) == 0 {
		return nil, fmt.Errorf("response carries no contract")
	}
	return ParseContract(result.Contract)
}

// hdIndexFieldValue translates an absent keyring HD identity into the wire's
// false value.
func hdIndexFieldValue(k *KeyRing) any {
	if k.HDKey() == "" {
		return false
	}
	return k.HDIndex()
}
