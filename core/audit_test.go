package core

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomShard(t *testing.T, size int) []byte {
	t.Helper()
	shard := make([]byte, size)
	if _, err := rand.Read(shard); err != nil {
		t.Fatalf("shard bytes: %v", err)
	}
	return shard
}

// finishedAudit consumes the shard in uneven chunks to exercise streaming.
func finishedAudit(t *testing.T, count int, shard []byte) *AuditStream {
	t.Helper()
	stream, err := NewAuditStream(count)
	if err != nil {
		t.Fatalf("audit stream: %v", err)
	}
	for len(shard) > 0 {
		n := len(shard)
		if n > 13 {
			n = 13
		}
		if _, err := stream.Write(shard[:n]); err != nil {
			t.Fatalf("write: %v", err)
		}
		shard = shard[n:]
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return stream
}

func TestAuditPublicRecordPadding(t *testing.T) {
	shard := randomShard(t, 4096)
	stream := finishedAudit(t, 3, shard)

	record, err := stream.PublicRecord()
	if err != nil {
		t.Fatalf("public record: %v", err)
	}
	if len(record) != 4 {
		t.Fatalf("expected 4 leaves for 3 challenges, got %d", len(record))
	}
	if record[3] != Hash160Hex(nil) {
		t.Fatalf("padding leaf %s, want %s", record[3], Hash160Hex(nil))
	}
}

func TestAuditPrivateRecordShape(t *testing.T) {
	shard := randomShard(t, 1024)
	stream := finishedAudit(t, 4, shard)

	record, err := stream.PrivateRecord()
	if err != nil {
		t.Fatalf("private record: %v", err)
	}
	if len(record.Challenges) != 4 {
		t.Fatalf("expected 4 challenges, got %d", len(record.Challenges))
	}
	// Four leaves: bottom, middle, root — three levels inclusive.
	if record.Depth != 3 {
		t.Fatalf("depth %d, want 3", record.Depth)
	}
	if len(record.Root) != 40 {
		t.Fatalf("root %q is not a 160-bit hex digest", record.Root)
	}
}

func TestAuditStreamIsLinear(t *testing.T) {
	stream := finishedAudit(t, 2, randomShard(t, 64))
	if _, err := stream.Write([]byte("more")); err == nil {
		t.Fatal("write after finish should fail")
	}
	if err := stream.Finish(); err == nil {
		t.Fatal("double finish should fail")
	}
}

func TestAuditRestoreFromRecords(t *testing.T) {
	shard := randomShard(t, 2048)
	stream := finishedAudit(t, 6, shard)

	public, _ := stream.PublicRecord()
	private, _ := stream.PrivateRecord()

	restored, err := AuditStreamFromRecords(private.Challenges, public)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	restoredPrivate, err := restored.PrivateRecord()
	if err != nil {
		t.Fatalf("restored private record: %v", err)
	}
	if restoredPrivate.Root != private.Root || restoredPrivate.Depth != private.Depth {
		t.Fatalf("restored tree (%s, %d) != original (%s, %d)",
			restoredPrivate.Root, restoredPrivate.Depth, private.Root, private.Depth)
	}
	if _, err := restored.Write([]byte("x")); err == nil {
		t.Fatal("restored streams are not writable")
	}
}

func TestAuditChallengesAreDistinct(t *testing.T) {
	stream := finishedAudit(t, 8, randomShard(t, 128))
	record, _ := stream.PrivateRecord()
	seen := make(map[string]struct{})
	for _, ch := range record.Challenges {
		if len(ch) != ChallengeSize*2 {
			t.Fatalf("challenge %q is not %d bytes of hex", ch, ChallengeSize)
		}
		if _, dup := seen[ch]; dup {
			t.Fatal("duplicate challenge generated")
		}
		seen[ch] = struct{}{}
	}
}

func TestMerkleTreeRejectsUnpaddedInput(t *testing.T) {
	if _, err := newMerkleTree([][]byte{Hash160([]byte("a")), Hash160([]byte("b")), Hash160([]byte("c"))}); err == nil {
		t.Fatal("non power-of-two leaf count should be rejected")
	}
	if _, err := newMerkleTree(nil); err == nil {
		t.Fatal("empty leaf set should be rejected")
	}
}

func TestMerkleCombinerUsesRawBytes(t *testing.T) {
	left := Hash160([]byte("left"))
	right := Hash160([]byte("right"))
	tree, err := newMerkleTree(padLeaves([][]byte{left, right}))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	joined := append(append([]byte{}, Hash160(left)...), Hash160(right)...)
	if !bytes.Equal(tree.Root(), Hash160(joined)) {
		t.Fatal("root must combine raw bytes, not hex strings")
	}
}
