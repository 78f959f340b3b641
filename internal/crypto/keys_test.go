package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecret(t *testing.T) {
	const secret = "4ccd089b28ff96da9db6c346ec114e0f5b8a319f35aba624da8cf6ed4fb8a6fb"
	const password = "correct horse battery staple"

	blob, err := EncryptSecret(secret, password)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, password)
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != secret {
		t.Errorf("round trip = %q, want %q", got, secret)
	}

	if _, err := DecryptSecret(blob, "wrong password"); err == nil {
		t.Error("DecryptSecret with wrong password succeeded")
	}
}

func TestEncryptSecretRejectsEmpty(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Error("empty password accepted")
	}
}

func TestLoadSecretResolution(t *testing.T) {
	// Raw takes precedence and is returned verbatim.
	got, err := LoadSecret(SecretConfig{Raw: "0xabc123"})
	if err != nil {
		t.Fatalf("LoadSecret raw: %v", err)
	}
	if got != "0xabc123" {
		t.Errorf("LoadSecret raw = %q", got)
	}

	// Encrypted file path.
	blob, err := EncryptSecret("my-api-secret", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("writing blob: %v", err)
	}
	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("LoadSecret encrypted: %v", err)
	}
	if got != "my-api-secret" {
		t.Errorf("LoadSecret encrypted = %q", got)
	}

	// Nothing configured degrades to empty, not an error.
	got, err = LoadSecret(SecretConfig{})
	if err != nil {
		t.Fatalf("LoadSecret empty: %v", err)
	}
	if got != "" {
		t.Errorf("LoadSecret empty = %q, want empty", got)
	}
}

func TestNormalizeHexKey(t *testing.T) {
	got, err := NormalizeHexKey("0xDEADbeef")
	if err != nil {
		t.Fatalf("NormalizeHexKey: %v", err)
	}
	if got != "DEADbeef" {
		t.Errorf("NormalizeHexKey = %q", got)
	}
	if _, err := NormalizeHexKey("xyz"); err == nil {
		t.Error("invalid hex accepted")
	}
}
