package securestore

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognirehab/securekit/internal/util"
	"github.com/cognirehab/securekit/platform/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testKDFParams() util.Argon2idParams {
	p := util.DefaultArgon2idParams()
	p.MemoryKiB = 8 * 1024
	p.Parallelism = 1
	return p
}

func newTestStore(t *testing.T) (*Store, *memory.Store, *fakeClock) {
	t.Helper()
	kv := memory.NewStore()
	clock := newFakeClock()
	s, err := New(kv, "unit-test-secret", WithClock(clock), WithKDFParams(testKDFParams()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, kv, clock
}

type profile struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)

	want := profile{Name: "Ana", Role: "doctor"}
	if err := s.Set("user_profile", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got profile
	if !s.Get("user_profile", &got) {
		t.Fatal("Get: expected value")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEncryptedEntryReadsRepeatedly(t *testing.T) {
	s, _, _ := newTestStore(t)

	want := profile{Name: "Ana", Role: "doctor"}
	if err := s.Set("auth_profile", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Decoded plaintext buffers are zeroed after each read; a second read
	// must decode from storage, not a shared buffer.
	for i := 0; i < 3; i++ {
		var got profile
		if !s.Get("auth_profile", &got) {
			t.Fatalf("Get %d: expected value", i)
		}
		if got != want {
			t.Fatalf("Get %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestSensitiveKeysEncrypted(t *testing.T) {
	s, kv, _ := newTestStore(t)

	secretValue := "very-secret-refresh-token"
	if err := s.Set("auth_refresh_token", secretValue); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, ok, _ := kv.Get("auth_refresh_token")
	if !ok {
		t.Fatal("entry missing from underlying store")
	}
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !it.IsEncrypted {
		t.Fatal("sensitive key stored without encryption")
	}
	if strings.Contains(string(it.Value), secretValue) {
		t.Fatal("plaintext leaked into stored payload")
	}

	// Round trip still yields the value.
	var got string
	if !s.Get("auth_refresh_token", &got) || got != secretValue {
		t.Fatalf("round trip got %q", got)
	}
}

func TestForceEncryption(t *testing.T) {
	s, kv, _ := newTestStore(t)

	if err := s.Set("plain_key", "value", WithEncryption()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, _, _ := kv.Get("plain_key")
	var it item
	json.Unmarshal(raw, &it)
	if !it.IsEncrypted {
		t.Fatal("WithEncryption not honored")
	}
}

func TestExpiryLaw(t *testing.T) {
	s, kv, clock := newTestStore(t)

	if err := s.Set("session_meta", "x", WithTTL(10)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got string
	if !s.Get("session_meta", &got) {
		t.Fatal("value should be live before TTL")
	}

	clock.Advance(10*time.Minute + time.Millisecond)

	if s.Get("session_meta", &got) {
		t.Fatal("value should be gone after TTL")
	}
	if _, ok, _ := kv.Get("session_meta"); ok {
		t.Fatal("expired entry should be removed from the underlying store")
	}
}

func TestIntegrityLaw(t *testing.T) {
	s, kv, _ := newTestStore(t)

	if err := s.Set("patient_notes", "original"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Corrupt the stored payload without touching the checksum.
	raw, _, _ := kv.Get("patient_notes")
	var it item
	json.Unmarshal(raw, &it)
	it.Value = json.RawMessage(`"tampered"`)
	corrupted, _ := json.Marshal(&it)
	kv.Set("patient_notes", corrupted)

	var got string
	if s.Get("patient_notes", &got) {
		t.Fatal("corrupted entry must read as absent")
	}
	if _, ok, _ := kv.Get("patient_notes"); ok {
		t.Fatal("corrupted entry must be deleted")
	}
}

func TestValidateIntegritySweeps(t *testing.T) {
	s, kv, _ := newTestStore(t)

	s.Set("good", "ok")
	s.Set("bad", "ok")

	raw, _, _ := kv.Get("bad")
	var it item
	json.Unmarshal(raw, &it)
	it.Checksum = "deadbeef"
	corrupted, _ := json.Marshal(&it)
	kv.Set("bad", corrupted)

	if s.ValidateIntegrity() {
		t.Fatal("expected integrity failure")
	}
	if _, ok, _ := kv.Get("bad"); ok {
		t.Fatal("corrupt entry not removed")
	}
	var got string
	if !s.Get("good", &got) {
		t.Fatal("intact entry must survive the sweep")
	}
	if !s.ValidateIntegrity() {
		t.Fatal("store should pass after the sweep")
	}
}

func TestClearExpiredAtConstruction(t *testing.T) {
	kv := memory.NewStore()
	clock := newFakeClock()

	first, err := New(kv, "unit-test-secret", WithClock(clock), WithKDFParams(testKDFParams()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first.Set("short_lived", "x", WithTTL(1))
	first.Set("long_lived", "y")

	clock.Advance(2 * time.Minute)

	if _, err := New(kv, "unit-test-secret", WithClock(clock), WithKDFParams(testKDFParams())); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok, _ := kv.Get("short_lived"); ok {
		t.Fatal("expired entry should be swept at construction")
	}
	if _, ok, _ := kv.Get("long_lived"); !ok {
		t.Fatal("live entry should survive construction sweep")
	}
}

func TestQuotaExceeded(t *testing.T) {
	kv := memory.NewStore()
	s, err := New(kv, "unit-test-secret", WithKDFParams(testKDFParams()), WithQuota(64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Set("a", strings.Repeat("x", 100)); err != nil {
		t.Fatalf("first Set should pass (checked before write): %v", err)
	}
	err = s.Set("b", "y")
	if err == nil {
		t.Fatal("expected quota error")
	}
	if !strings.Contains(err.Error(), "quota") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveNeverFails(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Remove("never_stored") // must not panic or error
}

func TestOpLogBounded(t *testing.T) {
	s, _, _ := newTestStore(t)

	for i := 0; i < opLogCap+50; i++ {
		s.Set("k", i)
	}
	logs := s.Logs()
	if len(logs) > opLogCap {
		t.Fatalf("op log length %d exceeds cap %d", len(logs), opLogCap)
	}
	last := logs[len(logs)-1]
	if last.Action != OpWrite || last.Key != "k" {
		t.Fatalf("unexpected last entry %+v", last)
	}
}

func TestStats(t *testing.T) {
	s, _, clock := newTestStore(t)

	s.Set("auth_token", "t")
	clock.Advance(time.Minute)
	s.Set("plain", "p", WithTTL(1))
	clock.Advance(2 * time.Minute)

	st := s.Stats()
	if st.TotalItems != 2 {
		t.Fatalf("TotalItems = %d, want 2", st.TotalItems)
	}
	if st.EncryptedItems != 1 {
		t.Fatalf("EncryptedItems = %d, want 1", st.EncryptedItems)
	}
	if st.ExpiredItems != 1 {
		t.Fatalf("ExpiredItems = %d, want 1", st.ExpiredItems)
	}
	if st.OldestItem >= st.NewestItem {
		t.Fatalf("timestamps not ordered: oldest %d newest %d", st.OldestItem, st.NewestItem)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := New(memory.NewStore(), ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
