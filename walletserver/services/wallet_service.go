package services

import (
	core "github.com/storj-archived/core-sub000/core"
)

// WalletService wraps the node key material operations used by the HTTP API.
type WalletService struct{}

func NewService() *WalletService { return &WalletService{} }

// CreateMnemonic generates a fresh recovery phrase.
func (ws *WalletService) CreateMnemonic(bits int) (string, error) {
	return core.NewMnemonic(bits)
}

// ImportMnemonic derives a keyring from a recovery phrase.
func (ws *WalletService) ImportMnemonic(mnemonic, passphrase string, index uint32) (*core.KeyRing, error) {
	return core.KeyRingFromMnemonic(mnemonic, passphrase, index, nil)
}

// DeriveIdentity resolves the node id for a stored private key.
func (ws *WalletService) DeriveIdentity(privateKeyHex string) (string, error) {
	priv, err := core.ParsePrivateKeyHex(privateKeyHex)
	if err != nil {
		return "", err
	}
	keys, err := core.NewKeyRing(priv, "", 0, nil)
	if err != nil {
		return "", err
	}
	return keys.NodeID(), nil
}

// SignContract signs a wire-form contract under the given role and returns
// the signed contract.
func (ws *WalletService) SignContract(privateKeyHex, role string, raw []byte) (*core.Contract, error) {
	priv, err := core.ParsePrivateKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keys, err := core.NewKeyRing(priv, "", 0, nil)
	if err != nil {
		return nil, err
	}
	contract, err := core.ParseContract(raw)
	if err != nil {
		return nil, err
	}
	idField := role + "_id"
	if contract.Get(idField) == nil {
		if err := contract.Set(idField, keys.NodeID()); err != nil {
			return nil, err
		}
	}
	if err := contract.Sign(role, keys); err != nil {
		return nil, err
	}
	return contract, nil
}
