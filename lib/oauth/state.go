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

package oauth

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// State is the opaque value round-tripped through the provider's
// authorization redirect. It carries the initiating user and a nonce;
// the wire form is base64url of the JSON encoding.
type State struct {
	UserID string `json:"user_id"`
	Nonce  string `json:"nonce"`
	// Extras carries flow-specific values such as the profile the
	// account should attach to.
	Extras map[string]string `json:"extras,omitempty"`
}

// NewState returns a state for the given user with a fresh nonce.
func NewState(userID string) State {
	return State{UserID: userID, Nonce: uuid.NewString()}
}

// Encode returns the wire form of the state.
func (s State) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Extra returns a named extra, or an error naming the missing key.
func (s State) Extra(key string) (string, error) {
	value, ok := s.Extras[key]
	if !ok || value == "" {
		return "", trace.BadParameter("missing_%v", key)
	}
	return value, nil
}

// DecodeState parses the wire form of a state. Errors carry a stable
// code usable in redirect query parameters.
func DecodeState(raw string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// tolerate padded encoders
		data, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, trace.BadParameter("invalid_base64")
		}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, trace.BadParameter("invalid_json")
	}
	if state.UserID == "" {
		return nil, trace.BadParameter("missing_user_id")
	}
	return &state, nil
}
