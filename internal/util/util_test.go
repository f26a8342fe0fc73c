package util

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, AESKeySize)
	for i := range key {
		key[i] = byte(i)
	}

	plain := []byte("cognitive rehabilitation session data")
	sealed, err := EncryptAES(plain, key)
	if err != nil {
		t.Fatalf("EncryptAES: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("ciphertext contains plaintext")
	}

	opened, err := DecryptAES(sealed, key)
	if err != nil {
		t.Fatalf("DecryptAES: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestDecryptAESRejectsTamper(t *testing.T) {
	key := make([]byte, AESKeySize)
	sealed, err := EncryptAES([]byte("payload"), key)
	if err != nil {
		t.Fatalf("EncryptAES: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := DecryptAES(sealed, key); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestEncryptAESRejectsBadKeySize(t *testing.T) {
	if _, err := EncryptAES([]byte("x"), []byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestDeriveStorageKeyDeterministic(t *testing.T) {
	params := DefaultArgon2idParams()
	// Keep the test fast; production params are heavier.
	params.MemoryKiB = 8 * 1024
	params.Parallelism = 1

	k1, err := DeriveStorageKey("secret-a", params)
	if err != nil {
		t.Fatalf("DeriveStorageKey: %v", err)
	}
	k2, err := DeriveStorageKey("secret-a", params)
	if err != nil {
		t.Fatalf("DeriveStorageKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("same secret must derive the same key")
	}

	k3, err := DeriveStorageKey("secret-b", params)
	if err != nil {
		t.Fatalf("DeriveStorageKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("different secrets must derive different keys")
	}
	if len(k1) != AESKeySize {
		t.Fatalf("derived key length = %d, want %d", len(k1), AESKeySize)
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("hello!"))

	if !ChecksumEqual(a, b) {
		t.Fatal("identical payloads must produce equal checksums")
	}
	if ChecksumEqual(a, c) {
		t.Fatal("distinct payloads must produce distinct checksums")
	}
	if len(a) != 64 {
		t.Fatalf("checksum length = %d, want 64 hex chars", len(a))
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not wiped", i)
		}
	}
}
