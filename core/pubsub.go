package core

// pubsub.go — topic-routed publish/subscribe overlay.
//
// Shard descriptors are routed by their 10-hex criteria topic.  The concrete
// overlay is GossipSub over a libp2p host with mDNS discovery for local
// peers; a loopback implementation serves tests and single-process runs.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// PubMessage is one received topic payload.
type PubMessage struct {
	From  string
	Topic string
	Data  []byte
}

// PubSub is the overlay boundary the node publishes descriptors through.
type PubSub interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string) (<-chan PubMessage, error)
	Close() error
}

// GossipOptions configure the libp2p overlay.
type GossipOptions struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// GossipPubSub routes topics over GossipSub.
type GossipPubSub struct {
	host   host.Host
	ps     *pubsub.PubSub
	logger *logrus.Logger

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic

	subLock sync.Mutex
	subs    map[string]*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGossipPubSub creates and bootstraps the overlay host.
func NewGossipPubSub(opts GossipOptions, lg *logrus.Logger) (*GossipPubSub, error) {
	if lg == nil {
		lg = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(opts.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	g := &GossipPubSub{
		host:   h,
		ps:     ps,
		logger: lg,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := g.dialSeeds(opts.BootstrapPeers); err != nil {
		lg.Warnf("bootstrap warning: %v", err)
	}

	if opts.DiscoveryTag != "" {
		if err := mdns.NewMdnsService(h, opts.DiscoveryTag, g).Start(); err != nil {
			lg.Warnf("mdns discovery: %v", err)
		}
	}

	return g, nil
}

var _ mdns.Notifee = (*GossipPubSub)(nil)

// HandlePeerFound implements mdns.Notifee: connect to discovered peers,
// ignoring ourselves.
func (g *GossipPubSub) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == g.host.ID() {
		return
	}
	if err := g.host.Connect(g.ctx, info); err != nil {
		g.logger.Warnf("connect to discovered peer %s: %v", info.ID, err)
	}
}

func (g *GossipPubSub) dialSeeds(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := g.host.Connect(g.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		g.logger.Infof("bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Publish sends data on topic, joining it on first use.
func (g *GossipPubSub) Publish(ctx context.Context, topic string, data []byte) error {
	g.topicLock.Lock()
	t, ok := g.topics[topic]
	if !ok {
		var err error
		t, err = g.ps.Join(topic)
		if err != nil {
			g.topicLock.Unlock()
			return fmt.Errorf("join topic %s: %w", topic, err)
		}
		g.topics[topic] = t
	}
	g.topicLock.Unlock()
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe listens for messages on a topic.
func (g *GossipPubSub) Subscribe(topic string) (<-chan PubMessage, error) {
	g.subLock.Lock()
	sub, ok := g.subs[topic]
	if !ok {
		var err error
		sub, err = g.ps.Subscribe(topic)
		if err != nil {
			g.subLock.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		g.subs[topic] = sub
	}
	g.subLock.Unlock()

	out := make(chan PubMessage)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(g.ctx)
			if err != nil {
				g.logger.Warnf("subscription next on %s: %v", topic, err)
				return
			}
			out <- PubMessage{From: msg.GetFrom().String(), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// Close tears down the overlay host.
func (g *GossipPubSub) Close() error {
	g.cancel()
	return g.host.Close()
}

// ---------------------------------------------------------------------------
// Loopback pub/sub
// ---------------------------------------------------------------------------

// LoopbackPubSub fans published payloads out to in-process subscribers.
type LoopbackPubSub struct {
	mu     sync.Mutex
	subs   map[string][]chan PubMessage
	closed bool
}

func NewLoopbackPubSub() *LoopbackPubSub {
	return &LoopbackPubSub{subs: make(map[string][]chan PubMessage)}
}

func (l *LoopbackPubSub) Publish(_ context.Context, topic string, data []byte) error {
	l.mu.Lock()
	targets := append([]chan PubMessage(nil), l.subs[topic]...)
	l.mu.Unlock()
	for _, ch := range targets {
		ch <- PubMessage{Topic: topic, Data: data}
	}
	return nil
}

func (l *LoopbackPubSub) Subscribe(topic string) (<-chan PubMessage, error) {
	ch := make(chan PubMessage, 16)
	l.mu.Lock()
	l.subs[topic] = append(l.subs[topic], ch)
	l.mu.Unlock()
	return ch, nil
}

func (l *LoopbackPubSub) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, chans := range l.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	l.subs = make(map[string][]chan PubMessage)
	return nil
}
