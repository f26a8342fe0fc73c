package securestore

import "encoding/json"

// item is the persisted envelope for a single entry. Value holds the
// JSON-encoded plaintext, or a base64 string when IsEncrypted is set.
// Checksum covers the stored Value bytes, so tampering with either the
// ciphertext or a plaintext entry is detected on read.
type item struct {
	Value       json.RawMessage `json:"value"`
	Timestamp   int64           `json:"timestamp"` // unix milliseconds
	TTL         int64           `json:"ttl"`       // milliseconds, 0 disables expiry
	Checksum    string          `json:"checksum"`
	IsEncrypted bool            `json:"isEncrypted"`
}

func (it *item) expired(nowMillis int64) bool {
	if it.TTL == 0 {
		return false
	}
	return nowMillis-it.Timestamp > it.TTL
}

// Metadata describes a stored entry without exposing its value.
type Metadata struct {
	Timestamp int64
	TTL       int64
	Encrypted bool
}

// Stats summarizes the state of the whole store.
type Stats struct {
	TotalItems     int
	TotalSize      int
	ExpiredItems   int
	EncryptedItems int
	OldestItem     int64 // unix milliseconds, 0 when empty
	NewestItem     int64 // unix milliseconds, 0 when empty
}
