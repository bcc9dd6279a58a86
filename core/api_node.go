package core

// APINode exposes a read-only HTTP view of a running storage node: identity,
// stored items and per-item contract summaries.  Intended for operators and
// monitoring, not for peers — peers use the wire methods and the shard
// server.

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

type APINode struct {
	node *Node

	srv *http.Server
	mu  sync.Mutex
}

// NewAPINode wraps a node for HTTP inspection.
func NewAPINode(n *Node) *APINode {
	return &APINode{node: n}
}

// Start launches the HTTP server on the given address.
func (a *APINode) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/contracts/", a.handleContracts)
	a.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return a.srv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (a *APINode) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv != nil {
		return a.srv.Shutdown(context.Background())
	}
	return nil
}

func (a *APINode) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	keys, err := a.node.Manager().Keys(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	used, err := a.node.Manager().UsedSpace(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"nodeID":    a.node.Keys().NodeID(),
		"contact":   a.node.Contact(),
		"items":     len(keys),
		"usedBytes": used,
		"peers":     a.node.Router().Len(),
	})
}

func (a *APINode) handleContracts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	hash := strings.TrimPrefix(req.URL.Path, "/contracts/")
	if !isHexHash(hash) {
		http.Error(w, "invalid shard hash", http.StatusBadRequest)
		return
	}
	item, err := a.node.Manager().Load(req.Context(), hash)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	type summary struct {
		FarmerID string `json:"farmerID"`
		RenterID string `json:"renterID"`
		StoreEnd int64  `json:"storeEnd"`
		Complete bool   `json:"complete"`
	}
	contracts := make(map[string]summary, len(item.Contracts))
	for peer, c := range item.Contracts {
		contracts[peer] = summary{
			FarmerID: c.FarmerID(),
			RenterID: c.RenterID(),
			StoreEnd: c.StoreEnd(),
			Complete: c.IsComplete(),
		}
	}
	writeJSON(w, map[string]any{"hash": item.Hash, "contracts": contracts})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
