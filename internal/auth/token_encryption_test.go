// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *TokenEncryptor {
	t.Helper()
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey error: %v", err)
	}
	enc, err := NewTokenEncryptor(&TokenEncryptorConfig{MasterKey: key})
	if err != nil {
		t.Fatalf("NewTokenEncryptor error: %v", err)
	}
	return enc
}

func TestNewTokenEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		config  *TokenEncryptorConfig
		wantNil bool
		wantErr bool
	}{
		{"nil config", nil, true, false},
		{"empty key", &TokenEncryptorConfig{}, true, false},
		{"bad base64", &TokenEncryptorConfig{MasterKey: "not base64!!"}, true, true},
		{"short key", &TokenEncryptorConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte("short"))}, true, true},
		{"valid key", &TokenEncryptorConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewTokenEncryptor(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (enc == nil) != tt.wantNil {
				t.Errorf("enc nil = %v, want %v", enc == nil, tt.wantNil)
			}
		})
	}
}

func TestTokenEncryptorRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	sealed, err := enc.Encrypt("discord-refresh-token")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		t.Errorf("sealed value missing prefix: %q", sealed)
	}
	if strings.Contains(sealed, "discord-refresh-token") {
		t.Error("sealed value contains plaintext")
	}

	again, err := enc.Encrypt("discord-refresh-token")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if again == sealed {
		t.Error("nonce reuse: identical ciphertexts")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if plain != "discord-refresh-token" {
		t.Errorf("Decrypt = %q", plain)
	}
}

func TestTokenEncryptorLegacyAndEmpty(t *testing.T) {
	enc := newTestEncryptor(t)

	plain, err := enc.Decrypt("stored-before-encryption")
	if err != nil || plain != "stored-before-encryption" {
		t.Errorf("legacy value = %q, %v", plain, err)
	}
	if s, _ := enc.Encrypt(""); s != "" {
		t.Errorf("empty Encrypt = %q", s)
	}
}

func TestTokenEncryptorTampered(t *testing.T) {
	enc := newTestEncryptor(t)
	other := newTestEncryptor(t)

	sealed, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	if _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := enc.Decrypt(sealedPrefix + "%%%"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
	if _, err := enc.Decrypt(sealedPrefix + base64.StdEncoding.EncodeToString([]byte("x"))); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext for short data, got %v", err)
	}
}

func TestTokenEncryptorNil(t *testing.T) {
	var enc *TokenEncryptor
	if enc.IsEnabled() {
		t.Error("nil encryptor should be disabled")
	}
	if s, err := enc.Encrypt("x"); err != nil || s != "x" {
		t.Errorf("nil Encrypt = %q, %v", s, err)
	}
	if s, err := enc.Decrypt("x"); err != nil || s != "x" {
		t.Errorf("nil Decrypt = %q, %v", s, err)
	}
}
