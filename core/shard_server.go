package core

// shard_server.go — token-gated HTTP transfer of shard bytes.
//
// CONSIGN and RETRIEVE hand out short-lived tokens binding a shard hash, an
// operation and the expected peer.  The server is the only writer of the
// token table; rules grant tokens through Accept.  Uploads stream through a
// running protocol hash and are staged until the digest matches the declared
// hash, so a bad upload never leaves partial bytes behind.

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// TokenTTL is how long a transfer token stays redeemable.
const TokenTTL = 2 * time.Minute

// TokenSize is the byte length of a transfer token.
const TokenSize = 20

// TransferOp tags a token with its direction.
type TransferOp string

const (
	OpPush TransferOp = "PUSH"
	OpPull TransferOp = "PULL"
)

// NewTransferToken mints a random token.
func NewTransferToken() (string, error) {
	raw := make([]byte, TokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

type transferToken struct {
	hash      string
	contact   Contact
	op        TransferOp
	expiresAt time.Time
	active    bool
}

// ShardServerOptions tune the transfer endpoint.
type ShardServerOptions struct {
	TokenTTL  time.Duration
	RateLimit rate.Limit
	RateBurst int
	Clock     clock.Clock
}

// ShardServer serves POST/GET /shards/{hash}?token=… .
type ShardServer struct {
	manager *StorageManager
	logger  *logrus.Logger
	clock   clock.Clock
	ttl     time.Duration
	limiter *rate.Limiter

	mu     sync.Mutex
	tokens map[string]*transferToken

	srv      *http.Server
	stopOnce sync.Once
	stopped  chan struct{}

	registry  *prometheus.Registry
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
}

// NewShardServer wires the endpoint.  Zero options take defaults.
func NewShardServer(manager *StorageManager, opts ShardServerOptions, lg *logrus.Logger) *ShardServer {
	if lg == nil {
		lg = logrus.New()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = TokenTTL
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(64)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 128
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	registry := prometheus.NewRegistry()
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shard_transfers_total",
		Help: "Completed shard transfers by direction and outcome.",
	}, []string{"direction", "outcome"})
	bytesCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shard_transfer_bytes_total",
		Help: "Shard bytes moved by direction.",
	}, []string{"direction"})
	registry.MustRegister(transfers, bytesCounter)

	s := &ShardServer{
		manager:   manager,
		logger:    lg,
		clock:     opts.Clock,
		ttl:       opts.TokenTTL,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		tokens:    make(map[string]*transferToken),
		stopped:   make(chan struct{}),
		registry:  registry,
		transfers: transfers,
		bytes:     bytesCounter,
	}
	go s.reap()
	return s
}

// Accept registers a token for a transfer.
func (s *ShardServer) Accept(token, hash string, contact Contact, op TransferOp) {
	s.mu.Lock()
	s.tokens[token] = &transferToken{
		hash:      hash,
		contact:   contact,
		op:        op,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	s.logger.Debugf("shard server: accepted %s token for %s from %s", op, hash, contact.NodeID)
}

// Reject invalidates a token before redemption.
func (s *ShardServer) Reject(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// redeem validates and activates a token for one transfer.
func (s *ShardServer) redeem(token, hash string, op TransferOp) (*transferToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.hash != hash || t.op != op || t.active {
		return nil, ErrTokenInvalid
	}
	if s.clock.Now().After(t.expiresAt) {
		delete(s.tokens, token)
		return nil, ErrTokenInvalid
	}
	t.active = true
	return t, nil
}

// release forgets a token after its transfer, success or failure.
func (s *ShardServer) release(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// isActive reports whether token is still present and mid-transfer.
func (s *ShardServer) isActive(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	return ok && t.active
}

// reap sweeps expired tokens.  An expired token aborts its transfer on the
// next chunk boundary.
func (s *ShardServer) reap() {
	ticker := s.clock.Ticker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			now := s.clock.Now()
			s.mu.Lock()
			for token, t := range s.tokens {
				if now.After(t.expiresAt) {
					delete(s.tokens, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Router builds the chi handler.
func (s *ShardServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logging)
	r.Post("/shards/{hash}", s.handleUpload)
	r.Get("/shards/{hash}", s.handleDownload)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *ShardServer) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		next.ServeHTTP(w, r)
		s.logger.Infof("%s %s %s", r.Method, r.RequestURI, s.clock.Now().Sub(start))
	})
}

// ListenAndServe blocks serving transfers on addr.
func (s *ShardServer) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		IdleTimeout: 120 * time.Second,
	}
	s.logger.Infof("shard server listening on %s", addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops the server and the token reaper.
func (s *ShardServer) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopped) })
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeShardError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(wireError{Code: code, Message: err.Error()})
}

func (s *ShardServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeShardError(w, http.StatusTooManyRequests, errors.New("transfer rate limited"))
		return
	}
	hash := chi.URLParam(r, "hash")
	token := r.URL.Query().Get("token")

	t, err := s.redeem(token, hash, OpPush)
	if err != nil {
		s.transfers.WithLabelValues("upload", "rejected").Inc()
		writeShardError(w, http.StatusUnauthorized, err)
		return
	}
	defer s.release(token)

	contract, err := s.manager.ContractFor(r.Context(), hash, t.contact.NodeID)
	if err != nil {
		s.transfers.WithLabelValues("upload", "rejected").Inc()
		writeShardError(w, http.StatusUnauthorized, ErrTokenInvalid)
		return
	}
	limit := contract.DataSize()

	writer, err := s.manager.OpenShardWriter(r.Context(), hash)
	if err != nil {
		s.transfers.WithLabelValues("upload", "failed").Inc()
		writeShardError(w, http.StatusInternalServerError, err)
		return
	}

	digest := newHash160Writer()
	var received int64
	buf := make([]byte, 64*1024)
	for {
		if !s.isActive(token) {
			_ = writer.Abort()
			s.transfers.WithLabelValues("upload", "expired").Inc()
			writeShardError(w, http.StatusUnauthorized, ErrTokenInvalid)
			return
		}
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			received += int64(n)
			if received > limit {
				_ = writer.Abort()
				s.transfers.WithLabelValues("upload", "overrun").Inc()
				writeShardError(w, http.StatusBadRequest,
					fmt.Errorf("shard exceeds contracted size of %d bytes", limit))
				return
			}
			digest.Write(buf[:n])
			if _, err := writer.Write(buf[:n]); err != nil {
				_ = writer.Abort()
				s.transfers.WithLabelValues("upload", "failed").Inc()
				writeShardError(w, http.StatusInternalServerError, err)
				return
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = writer.Abort()
			s.transfers.WithLabelValues("upload", "failed").Inc()
			writeShardError(w, http.StatusBadRequest, readErr)
			return
		}
	}

	if digest.Sum160Hex() != hash {
		_ = writer.Abort()
		s.transfers.WithLabelValues("upload", "mismatch").Inc()
		writeShardError(w, http.StatusBadRequest, ErrHashMismatch)
		return
	}
	if err := writer.Commit(); err != nil {
		s.transfers.WithLabelValues("upload", "failed").Inc()
		writeShardError(w, http.StatusInternalServerError, err)
		return
	}

	s.transfers.WithLabelValues("upload", "ok").Inc()
	s.bytes.WithLabelValues("upload").Add(float64(received))
	s.logger.Infof("stored shard %s (%d bytes) from %s", hash, received, t.contact.NodeID)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

func (s *ShardServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeShardError(w, http.StatusTooManyRequests, errors.New("transfer rate limited"))
		return
	}
	hash := chi.URLParam(r, "hash")
	token := r.URL.Query().Get("token")

	if _, err := s.redeem(token, hash, OpPull); err != nil {
		s.transfers.WithLabelValues("download", "rejected").Inc()
		writeShardError(w, http.StatusUnauthorized, err)
		return
	}
	defer s.release(token)

	reader, err := s.manager.OpenShardReader(r.Context(), hash)
	if err != nil {
		s.transfers.WithLabelValues("download", "missing").Inc()
		writeShardError(w, http.StatusNotFound, ErrShardNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	n, err := io.Copy(w, reader)
	if err != nil {
		s.transfers.WithLabelValues("download", "failed").Inc()
		s.logger.Warnf("download of %s interrupted: %v", hash, err)
		return
	}
	s.transfers.WithLabelValues("download", "ok").Inc()
	s.bytes.WithLabelValues("download").Add(float64(n))
}
