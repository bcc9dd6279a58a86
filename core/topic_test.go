package core

import (
	"bytes"
	"testing"
)

func TestTopicBytesBuckets(t *testing.T) {
	// 16 MiB for 15 days: low size, low duration, medium availability/speed.
	c, err := NewContract(map[string]any{
		"data_size":   16 * mebibyte,
		"store_begin": int64(0),
		"store_end":   15 * dayMillis,
	})
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	want := []byte{0x0f, 0x01, 0x01, 0x02, 0x02}
	if got := c.TopicBytes(); !bytes.Equal(got, want) {
		t.Fatalf("topic bytes %x, want %x", got, want)
	}
	if got := c.TopicHex(); got != "0f01010202" {
		t.Fatalf("topic hex %q", got)
	}
}

func TestTopicDegreeThresholds(t *testing.T) {
	cases := []struct {
		size     int64
		duration int64
		want     []byte
	}{
		{32 * mebibyte, 30 * dayMillis, []byte{0x0f, 0x01, 0x01, 0x02, 0x02}},
		{33 * mebibyte, 31 * dayMillis, []byte{0x0f, 0x02, 0x02, 0x02, 0x02}},
		{512 * mebibyte, 90 * dayMillis, []byte{0x0f, 0x02, 0x02, 0x02, 0x02}},
		{513 * mebibyte, 91 * dayMillis, []byte{0x0f, 0x03, 0x03, 0x02, 0x02}},
		// The high bucket is unbounded above.
		{64 << 30, 3650 * dayMillis, []byte{0x0f, 0x03, 0x03, 0x02, 0x02}},
	}
	for _, tc := range cases {
		c, err := NewContract(map[string]any{
			"data_size":   tc.size,
			"store_begin": int64(0),
			"store_end":   tc.duration,
		})
		if err != nil {
			t.Fatalf("contract: %v", err)
		}
		if got := c.TopicBytes(); !bytes.Equal(got, tc.want) {
			t.Fatalf("size=%d duration=%d: topic %x, want %x", tc.size, tc.duration, got, tc.want)
		}
	}
}

func TestTopicDeterminism(t *testing.T) {
	a, _ := NewContract(map[string]any{"data_size": 10 * mebibyte, "store_end": 10 * dayMillis})
	b, _ := NewContract(map[string]any{"data_size": 20 * mebibyte, "store_end": 20 * dayMillis})
	if a.TopicHex() != b.TopicHex() {
		t.Fatal("contracts in the same buckets must share a topic")
	}
}

func TestAllTopicCodes(t *testing.T) {
	codes := AllTopicCodes()
	if len(codes) != 9 {
		t.Fatalf("expected 9 codes, got %d", len(codes))
	}
	seen := make(map[string]struct{})
	for _, code := range codes {
		if len(code) != 10 {
			t.Fatalf("code %q is not 10 hex chars", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}
