package core

// Criteria topic encoding.  Contracts are routed through the pub/sub overlay
// by a 5-byte prefix: a fixed marker followed by one degree byte per axis
// (size, duration, availability, speed).  Peers subscribe to the hex form.

import "encoding/hex"

// Degree buckets per criteria axis.
const (
	DegreeLow    byte = 0x01
	DegreeMedium byte = 0x02
	DegreeHigh   byte = 0x03
)

// topicPrefix marks a shard-descriptor topic.
const topicPrefix byte = 0x0f

const (
	mebibyte = int64(1) << 20

	sizeLowMax    = 32 * mebibyte
	sizeMediumMax = 512 * mebibyte

	dayMillis         = int64(24 * 60 * 60 * 1000)
	durationLowMax    = 30 * dayMillis
	durationMediumMax = 90 * dayMillis
)

// sizeDegree buckets the shard byte count.  The high bucket is unbounded
// above.
func sizeDegree(size int64) byte {
	switch {
	case size <= sizeLowMax:
		return DegreeLow
	case size <= sizeMediumMax:
		return DegreeMedium
	default:
		return DegreeHigh
	}
}

// durationDegree buckets the store window length in milliseconds.
func durationDegree(duration int64) byte {
	switch {
	case duration <= durationLowMax:
		return DegreeLow
	case duration <= durationMediumMax:
		return DegreeMedium
	default:
		return DegreeHigh
	}
}

// TopicBytes computes the contract's 5-byte routing prefix from its size and
// store window.  Availability and speed have no contract fields yet and sit
// in the medium bucket.
func (c *Contract) TopicBytes() []byte {
	return []byte{
		topicPrefix,
		sizeDegree(c.dataSize),
		durationDegree(c.storeEnd - c.storeBegin),
		DegreeMedium,
		DegreeMedium,
	}
}

// TopicHex returns the 10-hex topic identifier used by the pub/sub layer.
func (c *Contract) TopicHex() string {
	return hex.EncodeToString(c.TopicBytes())
}

// AllTopicCodes enumerates every subscribable topic hex, one per degree
// combination of the size and duration axes.
func AllTopicCodes() []string {
	degrees := []byte{DegreeLow, DegreeMedium, DegreeHigh}
	var codes []string
	for _, size := range degrees {
		for _, duration := range degrees {
			codes = append(codes, hex.EncodeToString([]byte{
				topicPrefix, size, duration, DegreeMedium, DegreeMedium,
			}))
		}
	}
	return codes
}
