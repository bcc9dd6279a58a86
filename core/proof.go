package core

// proof.go — streaming audit responses.
//
// A farmer answers a challenge by replaying the shard through a single
// SHA-256 pre-fed with the challenge, locating the resulting leaf in its
// persisted audit leaves and emitting the branch from that leaf to the root.
// The branch is a tagged tree in memory and only becomes the wire's nested
// array form at the JSON boundary.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
)

// ProofNode is one node of a nested branch proof: exactly one of the three
// shapes is set — a sibling hash, a pair, or the depth-0 challenge response.
type ProofNode struct {
	hash     []byte
	left     *ProofNode
	right    *ProofNode
	response []byte
}

func hashNode(h []byte) *ProofNode     { return &ProofNode{hash: h} }
func responseNode(r []byte) *ProofNode { return &ProofNode{response: r} }
func pairNode(l, r *ProofNode) *ProofNode {
	return &ProofNode{left: l, right: r}
}

// MarshalJSON renders the wire form: hashes as hex strings, pairs as
// 2-element arrays, the response as a 1-element array.
func (n *ProofNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.hash != nil:
		return json.Marshal(hex.EncodeToString(n.hash))
	case n.response != nil:
		return json.Marshal([]string{hex.EncodeToString(n.response)})
	case n.left != nil && n.right != nil:
		return json.Marshal([]*ProofNode{n.left, n.right})
	default:
		return nil, errors.New("empty proof node")
	}
}

// UnmarshalJSON parses the nested array form back into the tagged tree.
func (n *ProofNode) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		h, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("proof hash: %w", err)
		}
		n.hash = h
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("proof node: %w", err)
	}
	switch len(items) {
	case 1:
		var leaf string
		if err := json.Unmarshal(items[0], &leaf); err != nil {
			return fmt.Errorf("proof response: %w", err)
		}
		r, err := hex.DecodeString(leaf)
		if err != nil {
			return fmt.Errorf("proof response: %w", err)
		}
		n.response = r
	case 2:
		var left, right ProofNode
		if err := json.Unmarshal(items[0], &left); err != nil {
			return err
		}
		if err := json.Unmarshal(items[1], &right); err != nil {
			return err
		}
		n.left, n.right = &left, &right
	default:
		return errors.New("proof node arity")
	}
	return nil
}

// isBranch reports whether the node continues the challenge branch (a pair
// or the response) as opposed to a sibling hash.
func (n *ProofNode) isBranch() bool {
	return n.response != nil || (n.left != nil && n.right != nil)
}

// ProofStream consumes the stored shard bytes and finalizes into the branch
// proof for one challenge.
type ProofStream struct {
	leaves   [][]byte
	tree     *merkleTree
	digest   hash.Hash
	proof    *ProofNode
	finished bool
}

// NewProofStream prepares a responder from the farmer's persisted audit
// leaves and the auditor's challenge.
func NewProofStream(leaves []string, challengeHex string) (*ProofStream, error) {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}
	decoded, err := decodeHexList(leaves)
	if err != nil {
		return nil, fmt.Errorf("leaves: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("no audit leaves")
	}
	padded := padLeaves(decoded)
	tree, err := newMerkleTree(padded)
	if err != nil {
		return nil, err
	}
	digest := sha256.New()
	digest.Write(challenge)
	return &ProofStream{leaves: padded, tree: tree, digest: digest}, nil
}

// Write feeds shard bytes to the response hasher.
func (p *ProofStream) Write(b []byte) (int, error) {
	if p.finished {
		return 0, errors.New("proof stream already finished")
	}
	p.digest.Write(b)
	return len(b), nil
}

// Finish computes the challenge response, locates its leaf and assembles the
// nested branch.  A leaf missing from the tree fails proof generation.
func (p *ProofStream) Finish() error {
	if p.finished {
		return errors.New("proof stream already finished")
	}
	p.finished = true

	response := p.digest.Sum(nil)
	leaf := Hash160(response)

	index := -1
	for i, l := range p.leaves {
		if bytes.Equal(l, leaf) {
			index = i
			break
		}
	}
	if index < 0 {
		return ErrProofGeneration
	}

	branch := responseNode(response)
	for level := 0; level < p.tree.Depth()-1; level++ {
		sibling, err := p.tree.Node(level, index^1)
		if err != nil {
			return err
		}
		if index%2 == 0 {
			branch = pairNode(branch, hashNode(sibling))
		} else {
			branch = pairNode(hashNode(sibling), branch)
		}
		index /= 2
	}
	p.proof = branch
	return nil
}

// Proof returns the finished branch proof.
func (p *ProofStream) Proof() (*ProofNode, error) {
	if p.proof == nil {
		return nil, errors.New("proof not generated")
	}
	return p.proof, nil
}

// VerifyProof collapses a branch proof and returns both the expected and the
// computed root so the caller covers success and mismatch diagnostics with
// the same call.  The structural depth must match the audit tree depth.
func VerifyProof(proof *ProofNode, root string, depth int) (expected, computed string, err error) {
	value, levels, err := collapseProof(proof)
	if err != nil {
		return "", "", err
	}
	if levels != depth {
		return "", "", fmt.Errorf("proof depth %d does not match tree depth %d", levels, depth)
	}
	return root, hex.EncodeToString(value), nil
}

// collapseProof hashes the challenge branch up, replacing each pair with the
// combination of its collapsed branch side and sibling hash.
func collapseProof(n *ProofNode) (value []byte, depth int, err error) {
	switch {
	case n.response != nil:
		// Leaf and bottom-row hashes.
		return Hash160(Hash160(n.response)), 1, nil
	case n.left != nil && n.right != nil:
		var branch, sibling *ProofNode
		var branchLeft bool
		switch {
		case n.left.isBranch() && !n.right.isBranch():
			branch, sibling, branchLeft = n.left, n.right, true
		case n.right.isBranch() && !n.left.isBranch():
			branch, sibling, branchLeft = n.right, n.left, false
		default:
			return nil, 0, errors.New("malformed proof pair")
		}
		if sibling.hash == nil {
			return nil, 0, errors.New("missing sibling hash")
		}
		inner, innerDepth, err := collapseProof(branch)
		if err != nil {
			return nil, 0, err
		}
		joined := make([]byte, 0, len(inner)+len(sibling.hash))
		if branchLeft {
			joined = append(joined, inner...)
			joined = append(joined, sibling.hash...)
		} else {
			joined = append(joined, sibling.hash...)
			joined = append(joined, inner...)
		}
		return Hash160(joined), innerDepth + 1, nil
	default:
		return nil, 0, errors.New("malformed proof node")
	}
}
