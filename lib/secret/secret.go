/*
Copyright 2025 Pulse Technologies, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package secret implements authenticated encryption for account
// credentials kept at rest. Tokens are sealed with AES-GCM under a key
// derived from the configured key material; the sealed form is
// base64(nonce || ciphertext) so a single string column can hold it.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pulsehq/pulse/lib/defaults"
)

const (
	// keyLength is the length of the AES-256 key in bytes.
	keyLength = 32

	// nonceLength is the length of the GCM nonce in bytes.
	nonceLength = 12
)

// keySalt is the fixed PBKDF2 salt. Changing it invalidates every
// sealed credential in the store.
var keySalt = []byte("pulse-credential-store-v1")

// Key is a 32-byte key used to seal and open credentials.
type Key []byte

// NewKey returns a fresh random key.
func NewKey() (Key, error) {
	key := make(Key, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, trace.Wrap(err)
	}
	return key, nil
}

// KeyFromPassword derives a sealing key from configured key material.
func KeyFromPassword(password string) (Key, error) {
	if len(password) < defaults.MinKeyMaterial {
		return nil, trace.BadParameter("encryption key material must be at least %v bytes", defaults.MinKeyMaterial)
	}
	return Key(pbkdf2.Key([]byte(password), keySalt, defaults.KeyIterations, keyLength, sha256.New)), nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext). A
// fresh nonce is generated on every call, so sealing the same plaintext
// twice yields different outputs.
func (k Key) Seal(plaintext []byte) (string, error) {
	aead, err := k.aead()
	if err != nil {
		return "", trace.Wrap(err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", trace.Wrap(err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a string produced by Seal.
func (k Key) Open(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, trace.BadParameter("sealed credential is not valid base64")
	}
	if len(raw) < nonceLength {
		return nil, trace.BadParameter("sealed credential is too short")
	}
	aead, err := k.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plaintext, err := aead.Open(nil, raw[:nonceLength], raw[nonceLength:], nil)
	if err != nil {
		return nil, trace.AccessDenied("failed to open sealed credential")
	}
	return plaintext, nil
}

func (k Key) aead() (cipher.AEAD, error) {
	if len(k) != keyLength {
		return nil, trace.BadParameter("key must be %v bytes, got %v", keyLength, len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}
