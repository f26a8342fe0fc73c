// Package securestore provides encrypted, TTL'd, integrity-checked
// key/value persistence over a platform.KeyValue store.
//
// Entries whose keys match a sensitive-substring heuristic are sealed with
// AES-256-GCM under a key derived from a process-wide secret. This is
// obfuscation and integrity against casual local tampering, not a defense
// against an attacker with local code execution; server-side controls own
// the real security boundary.
package securestore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/cognirehab/securekit/internal/util"
	"github.com/cognirehab/securekit/platform"
)

// ErrQuotaExceeded is returned by Set when the estimated stored size would
// exceed the configured cap.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// DefaultQuota is the storage size cap in bytes.
const DefaultQuota = 5 * 1024 * 1024

// sensitiveKeys trigger encryption on substring match against the
// normalized, lowercased entry key.
var sensitiveKeys = []string{"auth", "token", "password", "personal"}

// Store is the secure storage service. All access to the underlying
// platform store goes through it.
type Store struct {
	kv     platform.KeyValue
	clock  platform.Clock
	key    *memguard.Enclave
	logger *slog.Logger
	quota  int

	mu   sync.Mutex
	logs []OpLog
}

// Option configures a Store.
type Option func(*options)

type options struct {
	clock     platform.Clock
	logger    *slog.Logger
	quota     int
	kdfParams util.Argon2idParams
}

// WithClock substitutes the time source; tests use a fake.
func WithClock(c platform.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the slog logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithQuota overrides the storage size cap in bytes.
func WithQuota(bytes int) Option {
	return func(o *options) { o.quota = bytes }
}

// WithKDFParams overrides the Argon2id parameters used to derive the
// encryption key. Tests use lighter settings than production defaults.
func WithKDFParams(p util.Argon2idParams) Option {
	return func(o *options) { o.kdfParams = p }
}

// New derives the encryption key from secret, then sweeps expired and
// corrupted entries before returning the store.
func New(kv platform.KeyValue, secret string, opts ...Option) (*Store, error) {
	if secret == "" {
		return nil, fmt.Errorf("storage secret must not be empty")
	}

	o := options{
		clock:     platform.SystemClock(),
		logger:    slog.Default(),
		quota:     DefaultQuota,
		kdfParams: util.DefaultArgon2idParams(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	rawKey, err := util.DeriveStorageKey(secret, o.kdfParams)
	if err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}
	// NewEnclave wipes rawKey; the key lives encrypted in memory from here on.
	s := &Store{
		kv:     kv,
		clock:  o.clock,
		key:    memguard.NewEnclave(rawKey),
		logger: o.logger,
		quota:  o.quota,
	}

	s.ClearExpired()
	s.ValidateIntegrity()
	return s, nil
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttlMinutes   int
	forceEncrypt bool
}

// WithTTL bounds the entry's lifetime. Zero or negative means no expiry.
func WithTTL(minutes int) SetOption {
	return func(o *setOptions) { o.ttlMinutes = minutes }
}

// WithEncryption seals the entry even when the key doesn't look sensitive.
func WithEncryption() SetOption {
	return func(o *setOptions) { o.forceEncrypt = true }
}

// Set serializes value and writes it under key, encrypting when forced or
// when the key matches the sensitive heuristic.
func (s *Store) Set(key string, value any, opts ...SetOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	key = util.Normalize(key)

	if err := s.checkQuota(); err != nil {
		s.logOp(OpError, key, err.Error())
		return err
	}

	plain, err := json.Marshal(value)
	if err != nil {
		s.logOp(OpError, key, err.Error())
		return fmt.Errorf("serializing value for %q: %w", key, err)
	}

	encrypt := o.forceEncrypt || isSensitiveKey(key)
	payload := plain
	if encrypt {
		sealed, err := s.seal(plain)
		if err != nil {
			s.logOp(OpError, key, err.Error())
			return fmt.Errorf("encrypting value for %q: %w", key, err)
		}
		// The plaintext copy is not needed once sealed.
		util.WipeBytes(plain)
		payload, err = json.Marshal(base64.StdEncoding.EncodeToString(sealed))
		if err != nil {
			s.logOp(OpError, key, err.Error())
			return err
		}
	}

	ttl := int64(0)
	if o.ttlMinutes > 0 {
		ttl = int64(o.ttlMinutes) * 60 * 1000
	}

	it := item{
		Value:       payload,
		Timestamp:   s.clock.Now().UnixMilli(),
		TTL:         ttl,
		Checksum:    util.Checksum(payload),
		IsEncrypted: encrypt,
	}

	raw, err := json.Marshal(&it)
	if err != nil {
		s.logOp(OpError, key, err.Error())
		return err
	}
	if err := s.kv.Set(key, raw); err != nil {
		s.logOp(OpError, key, err.Error())
		return fmt.Errorf("writing %q: %w", key, err)
	}

	s.logOp(OpWrite, key, "")
	return nil
}

// Get reads the entry under key into dest. It returns false when the entry
// is absent, expired (the entry is removed), or fails its integrity check
// (treated as tampering; the entry is removed). Storage-layer failures are
// logged and reported as absence, never as errors to the caller.
func (s *Store) Get(key string, dest any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = util.Normalize(key)
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		s.logOp(OpError, key, err.Error())
		return false
	}
	if !ok {
		return false
	}

	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		s.logOp(OpError, key, "malformed envelope")
		s.removeLocked(key)
		return false
	}

	if it.expired(s.clock.Now().UnixMilli()) {
		s.removeLocked(key)
		return false
	}

	if !util.ChecksumEqual(util.Checksum(it.Value), it.Checksum) {
		s.logOp(OpError, key, "integrity check failed")
		s.logger.Warn("secure storage integrity check failed, removing entry", "key", key)
		s.removeLocked(key)
		return false
	}

	payload := []byte(it.Value)
	if it.IsEncrypted {
		var b64 string
		if err := json.Unmarshal(it.Value, &b64); err != nil {
			s.logOp(OpError, key, "malformed ciphertext")
			s.removeLocked(key)
			return false
		}
		sealed, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			s.logOp(OpError, key, "malformed ciphertext")
			s.removeLocked(key)
			return false
		}
		payload, err = s.open(sealed)
		if err != nil {
			s.logOp(OpError, key, "decryption failed")
			s.removeLocked(key)
			return false
		}
	}

	err = json.Unmarshal(payload, dest)
	if it.IsEncrypted {
		util.WipeBytes(payload)
	}
	if err != nil {
		s.logOp(OpError, key, err.Error())
		return false
	}

	s.logOp(OpRead, key, "")
	return true
}

// Remove deletes the entry under key. Failures are logged, never returned.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(util.Normalize(key))
}

func (s *Store) removeLocked(key string) {
	if err := s.kv.Delete(key); err != nil {
		s.logOp(OpError, key, err.Error())
		s.logger.Warn("secure storage delete failed", "key", key, "error", err)
		return
	}
	s.logOp(OpDelete, key, "")
}

// Metadata returns envelope metadata for key without decrypting the value.
func (s *Store) Metadata(key string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kv.Get(util.Normalize(key))
	if err != nil || !ok {
		return Metadata{}, false
	}
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Metadata{}, false
	}
	return Metadata{Timestamp: it.Timestamp, TTL: it.TTL, Encrypted: it.IsEncrypted}, true
}

// Keys lists every stored key.
func (s *Store) Keys() []string {
	keys, err := s.kv.Keys()
	if err != nil {
		s.mu.Lock()
		s.logOp(OpError, "", err.Error())
		s.mu.Unlock()
		return nil
	}
	return keys
}

// ClearExpired removes every entry whose TTL has elapsed.
func (s *Store) ClearExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys()
	if err != nil {
		s.logOp(OpError, "", err.Error())
		return
	}
	now := s.clock.Now().UnixMilli()
	for _, key := range keys {
		raw, ok, err := s.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if it.expired(now) {
			s.removeLocked(key)
		}
	}
}

// ValidateIntegrity verifies every non-expired entry's checksum, removing
// corrupted entries. It reports whether the whole store passed.
func (s *Store) ValidateIntegrity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys()
	if err != nil {
		s.logOp(OpError, "", err.Error())
		return false
	}

	valid := true
	now := s.clock.Now().UnixMilli()
	for _, key := range keys {
		raw, ok, err := s.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			s.logOp(OpError, key, "malformed envelope")
			s.removeLocked(key)
			valid = false
			continue
		}
		if it.expired(now) {
			continue
		}
		if !util.ChecksumEqual(util.Checksum(it.Value), it.Checksum) {
			s.logOp(OpError, key, "integrity validation failed")
			s.removeLocked(key)
			valid = false
		}
	}
	return valid
}

// Stats scans the store and summarizes its contents.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	var st Stats
	keys, err := s.kv.Keys()
	if err != nil {
		s.logOp(OpError, "", err.Error())
		return st
	}

	now := s.clock.Now().UnixMilli()
	for _, key := range keys {
		raw, ok, err := s.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		st.TotalItems++
		st.TotalSize += len(raw)

		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if it.expired(now) {
			st.ExpiredItems++
		}
		if it.IsEncrypted {
			st.EncryptedItems++
		}
		if st.OldestItem == 0 || it.Timestamp < st.OldestItem {
			st.OldestItem = it.Timestamp
		}
		if it.Timestamp > st.NewestItem {
			st.NewestItem = it.Timestamp
		}
	}
	return st
}

func (s *Store) checkQuota() error {
	st := s.statsLocked()
	if st.TotalSize > s.quota {
		return fmt.Errorf("%w: %d bytes stored, cap %d", ErrQuotaExceeded, st.TotalSize, s.quota)
	}
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return util.EncryptAES(plain, buf.Bytes())
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return util.DecryptAES(sealed, buf.Bytes())
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range sensitiveKeys {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
