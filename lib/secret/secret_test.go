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

package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	require.Len(t, []byte(key), 32)

	sealed, err := key.Seal([]byte("gho_secrettoken"))
	require.NoError(t, err)

	plaintext, err := key.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("gho_secrettoken"), plaintext)
}

// TestSealFreshNonce makes sure sealing the same plaintext twice with
// the same key yields different ciphertexts.
func TestSealFreshNonce(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	sealed1, err := key.Seal([]byte("hello, world"))
	require.NoError(t, err)
	sealed2, err := key.Seal([]byte("hello, world"))
	require.NoError(t, err)
	require.NotEqual(t, sealed1, sealed2)

	plaintext1, err := key.Open(sealed1)
	require.NoError(t, err)
	plaintext2, err := key.Open(sealed2)
	require.NoError(t, err)
	require.Equal(t, plaintext1, plaintext2)
}

// TestOpenWrongKey makes sure credentials sealed with one key cannot be
// opened with another.
func TestOpenWrongKey(t *testing.T) {
	key1, err := NewKey()
	require.NoError(t, err)
	key2, err := NewKey()
	require.NoError(t, err)

	sealed, err := key1.Seal([]byte("hello, world"))
	require.NoError(t, err)

	_, err = key2.Open(sealed)
	require.Error(t, err)

	plaintext, err := key1.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, world"), plaintext)
}

func TestKeyFromPassword(t *testing.T) {
	_, err := KeyFromPassword("too-short")
	require.Error(t, err)

	material := strings.Repeat("k", 32)
	key1, err := KeyFromPassword(material)
	require.NoError(t, err)
	key2, err := KeyFromPassword(material)
	require.NoError(t, err)
	// Derivation is deterministic: both keys open each other's output.
	sealed, err := key1.Seal([]byte("refresh-token"))
	require.NoError(t, err)
	plaintext, err := key2.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("refresh-token"), plaintext)
}

func TestOpenGarbage(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	_, err = key.Open("not base64 at all ***")
	require.Error(t, err)

	_, err = key.Open("c2hvcnQ=") // valid base64, shorter than a nonce
	require.Error(t, err)
}
