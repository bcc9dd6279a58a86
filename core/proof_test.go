package core

import (
	"encoding/json"
	"testing"
)

// proveChallenge replays the shard through a proof stream for one challenge.
func proveChallenge(t *testing.T, leaves []string, challenge string, shard []byte) *ProofStream {
	t.Helper()
	stream, err := NewProofStream(leaves, challenge)
	if err != nil {
		t.Fatalf("proof stream: %v", err)
	}
	if _, err := stream.Write(shard); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return stream
}

func TestAuditProofRoundTrip(t *testing.T) {
	for _, count := range []int{1, 2, 3, 4, 6, 8} {
		shard := randomShard(t, 4096)
		audit := finishedAudit(t, count, shard)
		public, _ := audit.PublicRecord()
		private, _ := audit.PrivateRecord()

		for i, challenge := range private.Challenges {
			proofStream := proveChallenge(t, public, challenge, shard)
			proof, err := proofStream.Proof()
			if err != nil {
				t.Fatalf("count=%d challenge=%d: %v", count, i, err)
			}
			expected, computed, err := VerifyProof(proof, private.Root, private.Depth)
			if err != nil {
				t.Fatalf("count=%d challenge=%d verify: %v", count, i, err)
			}
			if expected != computed {
				t.Fatalf("count=%d challenge=%d: root %s != computed %s", count, i, expected, computed)
			}
		}
	}
}

func TestProofSurvivesWireEncoding(t *testing.T) {
	shard := randomShard(t, 1024)
	audit := finishedAudit(t, 4, shard)
	public, _ := audit.PublicRecord()
	private, _ := audit.PrivateRecord()

	stream := proveChallenge(t, public, private.Challenges[2], shard)
	proof, _ := stream.Proof()

	raw, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored ProofNode
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	expected, computed, err := VerifyProof(&restored, private.Root, private.Depth)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if expected != computed {
		t.Fatalf("root %s != computed %s after wire round trip", expected, computed)
	}
}

func TestProofFailsForUnknownChallenge(t *testing.T) {
	shard := randomShard(t, 512)
	audit := finishedAudit(t, 4, shard)
	public, _ := audit.PublicRecord()

	// A challenge the audit tree has never seen.
	foreign := Hash160Hex([]byte("foreign")) + Hash160Hex([]byte("challenge"))[:24]
	stream, err := NewProofStream(public, foreign)
	if err != nil {
		t.Fatalf("proof stream: %v", err)
	}
	if _, err := stream.Write(shard); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := stream.Finish(); err != ErrProofGeneration {
		t.Fatalf("expected ErrProofGeneration, got %v", err)
	}
}

func TestProofDetectsWrongShardBytes(t *testing.T) {
	shard := randomShard(t, 2048)
	audit := finishedAudit(t, 2, shard)
	public, _ := audit.PublicRecord()
	private, _ := audit.PrivateRecord()

	// Replaying different bytes produces a leaf outside the tree.
	stream, err := NewProofStream(public, private.Challenges[0])
	if err != nil {
		t.Fatalf("proof stream: %v", err)
	}
	tampered := append([]byte{}, shard...)
	tampered[0] ^= 0xff
	if _, err := stream.Write(tampered); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := stream.Finish(); err != ErrProofGeneration {
		t.Fatalf("expected ErrProofGeneration, got %v", err)
	}
}

func TestVerifyProofRejectsDepthMismatch(t *testing.T) {
	shard := randomShard(t, 256)
	audit := finishedAudit(t, 4, shard)
	public, _ := audit.PublicRecord()
	private, _ := audit.PrivateRecord()

	stream := proveChallenge(t, public, private.Challenges[0], shard)
	proof, _ := stream.Proof()
	if _, _, err := VerifyProof(proof, private.Root, private.Depth+1); err == nil {
		t.Fatal("depth mismatch should be rejected")
	}
}
