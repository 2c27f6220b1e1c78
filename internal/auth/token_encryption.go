// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package auth implements the account-link flow: CSRF state storage, the
// Discord authorization round trip, Plex user resolution and the atomic
// write of the first token record. It also provides encryption at rest for
// stored refresh tokens.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Token encryption errors
var (
	// ErrDecryptionFailed indicates the decryption operation failed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// sealedPrefix marks values produced by Encrypt. Values without it were
// stored before encryption was enabled and are returned unchanged.
const sealedPrefix = "enc:v1:"

const defaultEncryptionContext = "plexcord-refresh-token-encryption"

// TokenEncryptor provides AES-GCM encryption for refresh tokens at rest.
// The key is derived from the configured master key with HKDF-SHA256.
type TokenEncryptor struct {
	aead cipher.AEAD
}

// TokenEncryptorConfig holds configuration for token encryption.
type TokenEncryptorConfig struct {
	// MasterKey is the base64-encoded master encryption key, at least 16
	// bytes once decoded.
	MasterKey string

	// Context is the HKDF info parameter.
	Context string
}

// NewTokenEncryptor creates a new token encryptor.
// Returns nil if masterKey is empty (encryption disabled).
func NewTokenEncryptor(config *TokenEncryptorConfig) (*TokenEncryptor, error) {
	if config == nil || config.MasterKey == "" {
		return nil, nil
	}

	masterKey, err := base64.StdEncoding.DecodeString(config.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(masterKey) < 16 {
		return nil, errors.New("master key must be at least 16 bytes")
	}

	info := config.Context
	if info == "" {
		info = defaultEncryptionContext
	}

	derivedKey, err := deriveKey(masterKey, []byte(info), 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}

	return &TokenEncryptor{aead: aead}, nil
}

// deriveKey derives a key using HKDF-SHA256.
func deriveKey(secret, info []byte, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext and returns the prefixed base64 form with the
// nonce prepended. Empty strings are returned as-is.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if e == nil || e.aead == nil {
		return plaintext, nil
	}
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Unprefixed values are returned
// unchanged.
func (e *TokenEncryptor) Decrypt(value string) (string, error) {
	if e == nil || e.aead == nil {
		return value, nil
	}
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrInvalidCiphertext)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+1+e.aead.Overhead() {
		return "", fmt.Errorf("%w: data too short", ErrInvalidCiphertext)
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	return string(plaintext), nil
}

// IsEnabled returns true if encryption is enabled.
func (e *TokenEncryptor) IsEnabled() bool {
	return e != nil && e.aead != nil
}

// GenerateEncryptionKey generates a random 256-bit key encoded for
// configuration.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
