// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the error types shared across the assessment pipeline.
//
// Callers branch on these with errors.As through the Is* helpers rather than
// matching on error strings: an AuthError asks for re-authorization, a
// ProviderError of kind transport or rate_limited may be retried later, and a
// ValidationError is the caller's fault.
package apperr

import (
	"errors"
	"fmt"
)

// ErrAuthorizationRequired is wrapped by AuthError when no credential is stored
// for an owner and an interactive authorization flow has to run first.
var ErrAuthorizationRequired = errors.New("authorization required")

// AuthError means the provider rejected (or cannot be given) a credential.
type AuthError struct {
	OwnerID string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed"
	}
	if e.OwnerID != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.OwnerID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// RevokedError means the refresh token was permanently invalidated. The stored
// credential has already been destroyed when this is returned.
type RevokedError struct {
	OwnerID string
	Err     error
}

func (e *RevokedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential revoked for %s: %v", e.OwnerID, e.Err)
	}
	return fmt.Sprintf("credential revoked for %s", e.OwnerID)
}

func (e *RevokedError) Unwrap() error { return e.Err }

// ValidationError reports caller input that failed a format check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid is shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderKind classifies a remote mail provider failure.
type ProviderKind string

const (
	KindUnauthorized      ProviderKind = "unauthorized"
	KindInsufficientScope ProviderKind = "insufficient_scope"
	KindNotFound          ProviderKind = "not_found"
	KindRateLimited       ProviderKind = "rate_limited"
	KindTransport         ProviderKind = "transport"
	KindUnknown           ProviderKind = "unknown"
)

// ProviderError wraps a failure returned by a mail provider.
type ProviderError struct {
	Provider string
	Op       string
	Kind     ProviderKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed without user action.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

// AnalysisDegraded records an optional sub-analysis that fell back to a
// conservative default.
type AnalysisDegraded struct {
	Analysis string
	Err      error
}

func (e *AnalysisDegraded) Error() string {
	return fmt.Sprintf("%s analysis degraded: %v", e.Analysis, e.Err)
}

func (e *AnalysisDegraded) Unwrap() error { return e.Err }

// IsAuthError reports whether err asks for re-authorization. Revocations and
// provider 401s count.
func IsAuthError(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	if IsRevoked(err) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindUnauthorized
}

// IsRevoked reports whether err carries a RevokedError.
func IsRevoked(err error) bool {
	var re *RevokedError
	return errors.As(err, &re)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Kind returns the provider failure kind carried by err, if any.
func Kind(err error) (ProviderKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsDegraded reports whether err carries an AnalysisDegraded.
func IsDegraded(err error) bool {
	var de *AnalysisDegraded
	return errors.As(err, &de)
}
