package memory

import (
	"sort"
	"testing"
)

func TestStoreSetGetDelete(t *testing.T) {
	s := NewStore()

	if err := s.Set("a", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get("a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(v) != "one" {
		t.Fatalf("got %q, want %q", v, "one")
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ = s.Get("a")
	if ok {
		t.Fatal("expected key gone after delete")
	}

	// Deleting an absent key is fine.
	if err := s.Delete("never"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Set("k", []byte("abc"))

	v, _, _ := s.Get("k")
	v[0] = 'X'

	again, _, _ := s.Get("k")
	if string(again) != "abc" {
		t.Fatalf("store mutated through returned slice: %q", again)
	}
}

func TestStoreKeys(t *testing.T) {
	s := NewStore()
	s.Set("b", nil)
	s.Set("a", nil)

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys = %v", keys)
	}
}
