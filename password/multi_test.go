package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndVerify(t *testing.T) {
	b := NewBcrypt(bcrypt.MinCost)

	hash, err := b.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := b.Verify("correct horse battery", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = b.Verify("wrong", hash)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch")
	}

	if _, err := b.Verify("x", "$2b$not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestBcryptNeedsUpgrade(t *testing.T) {
	old := NewBcrypt(bcrypt.MinCost)
	hash, err := old.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	upgrade, err := NewBcrypt(bcrypt.MinCost + 1).NeedsUpgrade(hash)
	if err != nil || !upgrade {
		t.Fatalf("expected upgrade, got %v %v", upgrade, err)
	}
}

func TestMultiDispatchesOnPrefix(t *testing.T) {
	argon, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	bc := NewBcrypt(bcrypt.MinCost)
	m := NewMulti(argon, bc)

	argonHash, err := argon.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("argon Hash error: %v", err)
	}
	bcryptHash, err := bc.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("bcrypt Hash error: %v", err)
	}

	for name, hash := range map[string]string{"argon2id": argonHash, "bcrypt": bcryptHash} {
		ok, err := m.Verify("P@ssw0rd-Ascii", hash)
		if err != nil || !ok {
			t.Fatalf("%s: expected match, got ok=%v err=%v", name, ok, err)
		}
		ok, err = m.Verify("other-password", hash)
		if err != nil || ok {
			t.Fatalf("%s: expected mismatch, got ok=%v err=%v", name, ok, err)
		}
	}

	if _, err := m.Verify("x", "plaintext"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}

	if _, err := NewMulti(nil, bc).Verify("x", argonHash); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme without argon verifier, got %v", err)
	}
}
