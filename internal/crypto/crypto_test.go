package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known test key; never funded.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(string(blob), testKey) {
		t.Fatalf("ciphertext contains the plaintext key")
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != testKey {
		t.Fatalf("decrypt: got %s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatalf("wrong password accepted")
	}
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Fatalf("empty password accepted")
	}
}

func TestLoadSignerFromFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	fromFile, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	raw, err := LoadSigner(KeyConfig{RawPrivateKey: "0x" + testKey})
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if fromFile.Address() != raw.Address() {
		t.Fatalf("addresses differ: %s vs %s", fromFile.Address(), raw.Address())
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatalf("empty config accepted")
	}
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	msg := []byte("bit-oracle login\nnonce: abc")
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != s.Address() {
		t.Fatalf("recovered %s, want %s", got, s.Address())
	}
	if err := VerifyMessage(s.Address(), msg, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyMessage(s.Address(), []byte("other message"), sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("verify tampered message: %v", err)
	}
	if _, err := RecoverAddress(msg, "0x1234"); err == nil {
		t.Fatalf("short signature accepted")
	}
}
