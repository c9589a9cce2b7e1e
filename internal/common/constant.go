package common

import "time"

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

const (
	// KeySize is the length of the master key and of every user DEK.
	KeySize = 32

	// MaxPayloadBytes caps the serialized plaintext of a single memory.
	MaxPayloadBytes = 64 * 1024

	// Per-user memory budget: 20 long-term + 10 short-term slots share one pool.
	LongTermMemoryLimit  = 20
	ShortTermMemoryLimit = 10
	TotalMemoryLimit     = LongTermMemoryLimit + ShortTermMemoryLimit

	// ShortTermTTL is how long a short-term memory stays readable.
	ShortTermTTL = 5 * time.Hour

	// HardRetention is the absolute age cap applied to every memory.
	HardRetention = 30 * 24 * time.Hour

	// DefaultMemoryType is used when the caller does not tag a memory.
	DefaultMemoryType = "conversation"

	// DefaultReadLimit is the number of memories returned when no limit is given.
	DefaultReadLimit = 30

	// RecordVersion is stamped on every persisted key and memory record.
	RecordVersion = 1
)
