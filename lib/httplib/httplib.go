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

// Package httplib implements common utilities for the inbound HTTP
// API: handler adapters and error replies that never leak internals.
package httplib

import (
	"log/slog"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// HandlerFunc is a request handler that returns a JSON-serializable
// result or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler adapts a HandlerFunc into an httprouter handle with
// uniform error replies.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out != nil {
			roundtrip.ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// ErrorMessage is the JSON body of an error reply.
type ErrorMessage struct {
	Message string `json:"message"`
}

// ReplyError converts an error into a status code and a JSON body.
// Internal failures reply with an opaque message; the detail only goes
// to the log.
func ReplyError(w http.ResponseWriter, err error) {
	var status int
	message := trace.UserMessage(err)
	switch {
	case trace.IsNotFound(err):
		status = http.StatusNotFound
	case trace.IsAccessDenied(err):
		status = http.StatusForbidden
	case trace.IsBadParameter(err):
		status = http.StatusBadRequest
	case trace.IsAlreadyExists(err):
		status = http.StatusConflict
	case trace.IsLimitExceeded(err):
		status = http.StatusTooManyRequests
	case trace.IsConnectionProblem(err):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		message = "internal server error"
		slog.Error("Handler returned an internal error.", "error", err)
	}
	roundtrip.ReplyJSON(w, status, ErrorMessage{Message: message})
}
