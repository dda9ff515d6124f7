package cryptosuite

import (
	"bytes"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	s := DefaultSuite()
	key := bytes.Repeat([]byte{0x11}, 32)
	w, err := s.NewAEAD(key)
	if err != nil {
		t.Fatalf("unexpected error building aead worker: %v", err)
	}
	nonce, err := w.RandomNonce()
	if err != nil {
		t.Fatalf("unexpected error generating nonce: %v", err)
	}
	ct := w.Seal(nonce, []byte("hello world"), []byte("aad"))
	pt, err := w.Open(nonce, ct, []byte("aad"))
	if err != nil {
		t.Fatalf("unexpected error opening: %v", err)
	}
	if string(pt) != "hello world" {
		t.Fatalf("expected round trip, got %q", pt)
	}
}

func TestAEADOpenFailsOnTamperedCiphertext(t *testing.T) {
	s := DefaultSuite()
	key := bytes.Repeat([]byte{0x22}, 32)
	w, _ := s.NewAEAD(key)
	nonce, _ := w.RandomNonce()
	ct := w.Seal(nonce, []byte("secret"), nil)
	ct[0] ^= 0xFF
	if _, err := w.Open(nonce, ct, nil); err == nil {
		t.Fatal("expected tampered ciphertext to fail to open")
	}
}

func TestMACTagAndVerify(t *testing.T) {
	s := DefaultSuite()
	w, err := s.NewMAC([]byte("shared-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tag := w.Tag([]byte("nonce-data"))
	if err := w.Verify([]byte("nonce-data"), tag); err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
	if err := w.Verify([]byte("other-data"), tag); err == nil {
		t.Fatal("expected verify to fail for mismatched data")
	}
}

func TestDeriveHKDFIsDeterministic(t *testing.T) {
	s := DefaultSuite()
	k1, err := s.DeriveHKDF([]byte("secret"), []byte("salt"), []byte("info"), 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, _ := s.DeriveHKDF([]byte("secret"), []byte("salt"), []byte("info"), 32)
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected HKDF to be deterministic given identical inputs")
	}
}

func TestDHSharedSecretAgrees(t *testing.T) {
	s := DefaultSuite()
	a, err := s.GenerateDH()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.GenerateDH()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secretA, err := a.SharedSecret(b.Public)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secretB, err := b.SharedSecret(a.Public)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Fatal("expected both sides to agree on the shared secret")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	s := DefaultSuite()
	kp, err := s.GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, err := kp.Sign([]byte("message"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Verify(kp.Public, []byte("message"), sig); err != nil {
		t.Fatalf("expected signature to verify, got %v", err)
	}
	if err := Verify(kp.Public, []byte("tampered"), sig); err == nil {
		t.Fatal("expected signature verification to fail for altered message")
	}
}

func TestCheckSharedSecretProtocol(t *testing.T) {
	s := DefaultSuite()
	macKey, err := s.DeriveSharedSecret("Alice@example.com", "hunter2", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	macKeyVerifier, err := s.DeriveSharedSecret("alice@example.com", "hunter2", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nonce, err := GenerateChallengeNonce()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tag, err := s.ProveSharedSecret(macKey, nonce)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.VerifySharedSecret(macKeyVerifier, nonce, tag); err != nil {
		t.Fatalf("expected canonicalized login to derive matching keys, got %v", err)
	}
}

func TestChallengeNonceTooShortRejected(t *testing.T) {
	s := DefaultSuite()
	if _, err := s.ProveSharedSecret([]byte("key"), []byte("short")); err == nil {
		t.Fatal("expected short nonce to be rejected")
	}
}
