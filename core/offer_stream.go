package core

// offer_stream.go — bounded, backpressure-aware queue of OFFER responses for
// one published contract.
//
// The wire handler enqueues each countersigned offer and blocks on its
// completion callback; the renter consumes offers one at a time and resolves
// the callback with either the finished contract or an error, which is what
// the farmer receives as the OFFER response.

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxOffers bounds queued offers per published contract.
const DefaultMaxOffers = 24

// Offer is one {contact, contract} pairing plus its completion callback.
type Offer struct {
	Contact  Contact
	Contract *Contract

	mu     sync.Mutex
	done   bool
	result chan offerResult
}

type offerResult struct {
	contract *Contract
	err      error
}

// NewOffer pairs a sender with its countersigned contract.
func NewOffer(contact Contact, contract *Contract) *Offer {
	return &Offer{
		Contact:  contact,
		Contract: contract,
		result:   make(chan offerResult, 1),
	}
}

// Accept resolves the offer with the finished contract.  Only the first
// resolution counts.
func (o *Offer) Accept(contract *Contract) {
	o.resolve(offerResult{contract: contract})
}

// Reject resolves the offer with an error, surfaced to the sender as the
// OFFER response.
func (o *Offer) Reject(err error) {
	o.resolve(offerResult{err: err})
}

func (o *Offer) resolve(r offerResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.done = true
	o.result <- r
}

// Wait blocks until the offer is resolved or the context expires.
func (o *Offer) Wait(ctx context.Context) (*Contract, error) {
	select {
	case r := <-o.result:
		return r.contract, r.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// OfferStreamOptions tune a stream at publish time.
type OfferStreamOptions struct {
	MaxOffers       int
	FarmerBlacklist []string
}

// OfferStream lives from publish until max offers are processed, the stream
// is destroyed, or the node shuts down.
type OfferStream struct {
	ID       string
	contract *Contract

	maxOffers int
	blacklist map[string]struct{}

	mu        sync.Mutex
	offered   map[string]struct{}
	queued    int
	processed int
	destroyed bool

	queue     chan *Offer
	closeOnce sync.Once
	logger    *log.Logger
}

// NewOfferStream opens a stream for a published contract.
func NewOfferStream(contract *Contract, opts OfferStreamOptions, lg *log.Logger) *OfferStream {
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = DefaultMaxOffers
	}
	if lg == nil {
		lg = log.New()
	}
	blacklist := make(map[string]struct{}, len(opts.FarmerBlacklist))
	for _, id := range opts.FarmerBlacklist {
		blacklist[id] = struct{}{}
	}
	return &OfferStream{
		ID:        uuid.New().String(),
		contract:  contract,
		maxOffers: opts.MaxOffers,
		blacklist: blacklist,
		offered:   make(map[string]struct{}),
		queue:     make(chan *Offer, opts.MaxOffers),
		logger:    lg,
	}
}

// Contract returns the published contract this stream collects offers for.
func (s *OfferStream) Contract() *Contract { return s.contract }

// Enqueue admits an offer or rejects it through its completion callback.
func (s *OfferStream) Enqueue(offer *Offer) error {
	s.mu.Lock()
	var reason error
	switch {
	case s.destroyed:
		reason = ErrOfferRejected
	case s.isBlacklisted(offer.Contact.NodeID):
		reason = ErrOfferRejected
	case s.hasOffered(offer.Contact.NodeID):
		reason = ErrOfferRejected
	case !offer.Contract.IsComplete():
		reason = ErrIncompleteContract
	case s.queued == s.maxOffers:
		reason = ErrOfferRejected
	}
	if reason != nil {
		s.mu.Unlock()
		offer.Reject(reason)
		return reason
	}
	s.offered[offer.Contact.NodeID] = struct{}{}
	s.queued++
	// The queue is buffered to maxOffers and queued is bounded above by it,
	// so this send never blocks; keeping it under the lock means Destroy can
	// never close the channel between the check and the send.
	s.queue <- offer
	s.mu.Unlock()
	s.logger.Debugf("offer stream %s: queued offer from %s", s.ID, offer.Contact.NodeID)
	return nil
}

// Next delivers the next accepted offer in arrival order.  io.EOF signals
// the stream has ended (max offers processed or destroyed).
func (s *OfferStream) Next(ctx context.Context) (*Offer, error) {
	select {
	case offer, ok := <-s.queue:
		if !ok {
			return nil, io.EOF
		}
		s.mu.Lock()
		s.processed++
		finished := s.processed == s.maxOffers
		s.mu.Unlock()
		if finished {
			s.close()
		}
		return offer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Destroy drains the queue; further offers are rejected without effect and
// pending readers receive end-of-stream.
func (s *OfferStream) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.close()
	for {
		select {
		case offer, ok := <-s.queue:
			if !ok {
				return
			}
			offer.Reject(ErrStreamDestroyed)
		default:
			return
		}
	}
}

func (s *OfferStream) close() {
	s.closeOnce.Do(func() { close(s.queue) })
}

func (s *OfferStream) isBlacklisted(nodeID string) bool {
	_, ok := s.blacklist[nodeID]
	return ok
}

func (s *OfferStream) hasOffered(nodeID string) bool {
	_, ok := s.offered[nodeID]
	return ok
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// UnhandledOfferHook observes offers that arrive for closed descriptors.
type UnhandledOfferHook func(contact Contact, contract *Contract)

// OfferRegistry maps published data hashes to their offer streams.  Mutated
// only on publish and stream teardown.
type OfferRegistry struct {
	mu          sync.RWMutex
	streams     map[string]*OfferStream
	onUnhandled UnhandledOfferHook
}

func NewOfferRegistry() *OfferRegistry {
	return &OfferRegistry{streams: make(map[string]*OfferStream)}
}

// SetUnhandledOfferHook registers the observer for offers with no stream.
func (r *OfferRegistry) SetUnhandledOfferHook(hook UnhandledOfferHook) {
	r.mu.Lock()
	r.onUnhandled = hook
	r.mu.Unlock()
}

// Register routes offers for hash to the stream.
func (r *OfferRegistry) Register(hash string, stream *OfferStream) {
	r.mu.Lock()
	r.streams[hash] = stream
	r.mu.Unlock()
}

// Get looks up the stream for hash.
func (r *OfferRegistry) Get(hash string) (*OfferStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[hash]
	return s, ok
}

// Remove destroys and forgets the stream for hash.
func (r *OfferRegistry) Remove(hash string) {
	r.mu.Lock()
	s, ok := r.streams[hash]
	delete(r.streams, hash)
	r.mu.Unlock()
	if ok {
		s.Destroy()
	}
}

// CloseAll tears down every stream (node shutdown).
func (r *OfferRegistry) CloseAll() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*OfferStream)
	r.mu.Unlock()
	for _, s := range streams {
		s.Destroy()
	}
}

func (r *OfferRegistry) notifyUnhandled(contact Contact, contract *Contract) {
	r.mu.RLock()
	hook := r.onUnhandled
	r.mu.RUnlock()
	if hook != nil {
		go hook(contact, contract)
	}
}
