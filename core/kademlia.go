package core

// ContactRouter is the node's local view of the overlay: contacts seen in
// offers, bucketed by XOR distance from our id.  The full iterative lookup
// lives in the routing collaborator; Nearest ranks the cached contacts, and
// the node's own calls take explicit peers rather than reading from it.

import (
	"encoding/hex"
	"math/big"
	"sort"
	"sync"
)

const routerBuckets = 160

type ContactRouter struct {
	id      string
	mu      sync.RWMutex
	buckets [routerBuckets][]Contact
}

// NewContactRouter creates a router bound to the local node id.
func NewContactRouter(nodeID string) *ContactRouter {
	return &ContactRouter{id: nodeID}
}

func routerKey(nodeID string) [20]byte {
	var key [20]byte
	raw, err := hex.DecodeString(nodeID)
	if err != nil || len(raw) != 20 {
		// Non-protocol ids (loopback tests) hash into the keyspace instead.
		copy(key[:], Hash160([]byte(nodeID)))
		return key
	}
	copy(key[:], raw)
	return key
}

func xorDistance(a, b string) *big.Int {
	ka, kb := routerKey(a), routerKey(b)
	var diff [20]byte
	for i := range diff {
		diff[i] = ka[i] ^ kb[i]
	}
	return new(big.Int).SetBytes(diff[:])
}

func (r *ContactRouter) bucketIndex(nodeID string) int {
	d := xorDistance(r.id, nodeID)
	if d.Sign() == 0 {
		return routerBuckets - 1
	}
	return routerBuckets - d.BitLen()
}

// Add inserts or refreshes a contact.
func (r *ContactRouter) Add(contact Contact) {
	if contact.NodeID == "" || contact.NodeID == r.id {
		return
	}
	idx := r.bucketIndex(contact.NodeID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.buckets[idx] {
		if existing.NodeID == contact.NodeID {
			r.buckets[idx][i] = contact
			return
		}
	}
	r.buckets[idx] = append(r.buckets[idx], contact)
}

// Get returns the contact for a node id.
func (r *ContactRouter) Get(nodeID string) (Contact, bool) {
	idx := r.bucketIndex(nodeID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.buckets[idx] {
		if c.NodeID == nodeID {
			return c, true
		}
	}
	return Contact{}, false
}

// Remove drops a contact from its bucket.
func (r *ContactRouter) Remove(nodeID string) {
	idx := r.bucketIndex(nodeID)
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.buckets[idx]
	for i, c := range bucket {
		if c.NodeID == nodeID {
			r.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Nearest returns up to count contacts closest to target by XOR distance.
func (r *ContactRouter) Nearest(target string, count int) []Contact {
	r.mu.RLock()
	var all []Contact
	for _, bucket := range r.buckets {
		all = append(all, bucket...)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		di := xorDistance(all[i].NodeID, target)
		dj := xorDistance(all[j].NodeID, target)
		return di.Cmp(dj) < 0
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Len counts tracked contacts.
func (r *ContactRouter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, bucket := range r.buckets {
		total += len(bucket)
	}
	return total
}
