package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	core "github.com/storj-archived/core-sub000/core"
	"github.com/storj-archived/core-sub000/walletserver/services"
)

// WalletController provides HTTP handlers for key operations.
type WalletController struct {
	svc *services.WalletService
}

func NewWalletController(svc *services.WalletService) *WalletController {
	return &WalletController{svc: svc}
}

func (wc *WalletController) Create(w http.ResponseWriter, r *http.Request) {
	bitsStr := r.URL.Query().Get("bits")
	bits, _ := strconv.Atoi(bitsStr)
	if bits == 0 {
		bits = 128
	}
	mnemonic, err := wc.svc.CreateMnemonic(bits)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"mnemonic": mnemonic})
}

func (wc *WalletController) Import(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mnemonic   string
		Passphrase string
		Index      uint32
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	keys, err := wc.svc.ImportMnemonic(req.Mnemonic, req.Passphrase, req.Index)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"nodeID":     keys.NodeID(),
		"privateKey": core.EncodePrivateKeyHex(keys.PrivateKey()),
	})
}

func (wc *WalletController) Identity(w http.ResponseWriter, r *http.Request) {
	var req struct{ PrivateKey string }
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id, err := wc.svc.DeriveIdentity(req.PrivateKey)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"nodeID": id})
}

func (wc *WalletController) Sign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string
		Role       string
		Contract   json.RawMessage
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Role == "" {
		req.Role = core.RoleRenter
	}
	contract, err := wc.svc.SignContract(req.PrivateKey, req.Role, req.Contract)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"contract": contract})
}
