package core

// transport.go — wire message shapes and the transport boundary.
//
// Messages are JSON-RPC style: a method name, positional params and either a
// result or an error with a message.  Framing, message-level HD signing and
// the Kademlia routing underneath all live in the transport collaborator;
// the node only needs Send and a register(method, handler) surface.
//
// A loopback implementation wires nodes together in-process.  It exists for
// tests and smoke runs the same way the in-memory Kademlia does: same
// semantics, no sockets.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ResponseTimeout is the default deadline for outbound requests.
const ResponseTimeout = 6 * time.Second

// Method names dispatched by the rules.
const (
	MethodOffer    = "OFFER"
	MethodAudit    = "AUDIT"
	MethodConsign  = "CONSIGN"
	MethodMirror   = "MIRROR"
	MethodRetrieve = "RETRIEVE"
	MethodProbe    = "PROBE"
	MethodTrigger  = "TRIGGER"
	MethodRenew    = "RENEW"
	MethodPing     = "PING"
)

// Contact identifies a peer on the overlay.
type Contact struct {
	NodeID   string `json:"nodeID"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	HDKey    string `json:"hdKey,omitempty"`
	HDIndex  uint32 `json:"hdIndex,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// URL renders the contact's shard server origin.
func (c Contact) URL() string {
	scheme := c.Protocol
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Address, c.Port)
}

// Request is an inbound wire message as seen by a handler.
type Request struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	Contact Contact           `json:"contact"`
}

// Param decodes the positional parameter at index into out.
func (r *Request) Param(index int, out any) error {
	if index >= len(r.Params) {
		return fmt.Errorf("missing parameter %d", index)
	}
	return json.Unmarshal(r.Params[index], out)
}

// Response is the outbound half: exactly one of Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a handler rejection across the wire.
type ResponseError struct {
	Message string `json:"message"`
}

func (e *ResponseError) Error() string { return e.Message }

// HandlerFunc serves one method.  A returned error becomes the wire error;
// the returned value is marshalled as the result payload.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Transport sends requests to peers and dispatches inbound methods to
// registered handlers.
type Transport interface {
	// Send marshals params, delivers the request and returns the raw result.
	Send(ctx context.Context, to Contact, method string, params ...any) (json.RawMessage, error)
	// Register installs the handler for a method name.
	Register(method string, handler HandlerFunc)
	// Local returns this transport's own contact.
	Local() Contact
}

// marshalParams renders positional params for the wire.
func marshalParams(params []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(params))
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Loopback transport
// ---------------------------------------------------------------------------

// LoopbackNetwork connects loopback transports by node id.
type LoopbackNetwork struct {
	mu    sync.RWMutex
	peers map[string]*LoopbackTransport
}

func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{peers: make(map[string]*LoopbackTransport)}
}

// Join creates a transport for contact attached to this network.
func (n *LoopbackNetwork) Join(contact Contact) *LoopbackTransport {
	t := &LoopbackTransport{
		network:  n,
		contact:  contact,
		handlers: make(map[string]HandlerFunc),
	}
	n.mu.Lock()
	n.peers[contact.NodeID] = t
	n.mu.Unlock()
	return t
}

// Leave detaches a transport; subsequent sends to it fail.
func (n *LoopbackNetwork) Leave(nodeID string) {
	n.mu.Lock()
	delete(n.peers, nodeID)
	n.mu.Unlock()
}

func (n *LoopbackNetwork) lookup(nodeID string) (*LoopbackTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.peers[nodeID]
	return t, ok
}

// LoopbackTransport dispatches requests directly to the receiving peer's
// handler, honouring the caller's deadline.
type LoopbackTransport struct {
	network *LoopbackNetwork
	contact Contact

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	seq      int
}

func (t *LoopbackTransport) Local() Contact { return t.contact }

func (t *LoopbackTransport) Register(method string, handler HandlerFunc) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

func (t *LoopbackTransport) Send(ctx context.Context, to Contact, method string, params ...any) (json.RawMessage, error) {
	peer, ok := t.network.lookup(to.NodeID)
	if !ok {
		return nil, fmt.Errorf("no route to %s", to.NodeID)
	}
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.seq++
	id := fmt.Sprintf("%s-%d", t.contact.NodeID, t.seq)
	t.mu.Unlock()

	req := &Request{ID: id, Method: method, Params: rawParams, Contact: t.contact}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ResponseTimeout)
		defer cancel()
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := peer.dispatch(ctx, req)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, &ResponseError{Message: o.err.Error()}
		}
		return o.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (t *LoopbackTransport) dispatch(ctx context.Context, req *Request) (json.RawMessage, error) {
	t.mu.RLock()
	handler, ok := t.handlers[req.Method]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("method %s not supported", req.Method)
	}
	result, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return raw, nil
}
