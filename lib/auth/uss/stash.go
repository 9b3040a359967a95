/*
 * authcore
 * Copyright (C) 2024  The authcore Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package uss implements the UserSecretStash (§4.5): the single
// per-persistent-user container wrapping a random main key under every
// enrolled AuthFactor's derived vkk_key, plus the reset-secret and
// rate-limiter bookkeeping AddAuthFactor/AuthenticateAuthFactor need.
package uss

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// wrappedBlob is an AES-CBC-wrapped main key: iv ‖ ciphertext, keyed by
// the wrapping AuthFactor's vkk_key/vkk_iv.
type wrappedBlob struct {
	iv         []byte
	ciphertext []byte
}

// Stash is the UserSecretStash (§3). Exactly one exists per persistent
// user with USS enabled.
type Stash struct {
	fsKeyset  *fskeyset.FileSystemKeyset
	createdOn time.Time

	wrappedMainKeyByLabel map[string]wrappedBlob
	resetSecretByLabel    map[string]authcrypto.SecureBytes
	resetSecretByType     map[string]authcrypto.SecureBytes

	fingerprintRateLimiterLabel *secureelement.Label
}

// CreateRandom builds a new Stash around fsKeyset with a freshly random
// 32 B main key and empty wrap tables.
func CreateRandom(fsKeyset *fskeyset.FileSystemKeyset, createdOn time.Time) (*Stash, authcrypto.SecureBytes, error) {
	mainKey, err := authcrypto.Random(defaults.MainKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err, "failed to generate USS main key")
	}
	s := &Stash{
		fsKeyset:              fsKeyset,
		createdOn:             createdOn,
		wrappedMainKeyByLabel: make(map[string]wrappedBlob),
		resetSecretByLabel:    make(map[string]authcrypto.SecureBytes),
		resetSecretByType:     make(map[string]authcrypto.SecureBytes),
	}
	return s, mainKey, nil
}

// GetFSKeyset returns the wrapped user's FileSystemKeyset.
func (s *Stash) GetFSKeyset() *fskeyset.FileSystemKeyset { return s.fsKeyset }

// CreatedOn returns the Stash's creation timestamp.
func (s *Stash) CreatedOn() time.Time { return s.createdOn }

// AddWrappedMainKey AES-wraps mainKey under wrappingKey/iv and records it
// under wrappingID (the factor's label). Fails on a duplicate
// wrappingID, since every label maps to exactly one wrapping (§4.5).
func (s *Stash) AddWrappedMainKey(mainKey, wrappingKey, iv authcrypto.SecureBytes, wrappingID string) error {
	if _, exists := s.wrappedMainKeyByLabel[wrappingID]; exists {
		return autherrors.New(autherrors.KindAddCredentialsFailed, nil, "uss: wrapping id %q already present", wrappingID)
	}
	ciphertext, err := authcrypto.AESCBCEncrypt(wrappingKey, iv, mainKey)
	if err != nil {
		return trace.Wrap(err, "failed to wrap USS main key")
	}
	s.wrappedMainKeyByLabel[wrappingID] = wrappedBlob{iv: append([]byte{}, iv...), ciphertext: ciphertext}
	return nil
}

// RemoveWrappedMainKey drops the wrapping at wrappingID. The
// at-least-one-wrapping-remains invariant is enforced one layer above,
// by the "last factor" check in authfactor.Manager/AuthSession (§4.5).
func (s *Stash) RemoveWrappedMainKey(wrappingID string) {
	delete(s.wrappedMainKeyByLabel, wrappingID)
}

// unwrapMainKey reverses AddWrappedMainKey for wrappingID.
func (s *Stash) unwrapMainKey(wrappingID string, wrappingKey authcrypto.SecureBytes) (authcrypto.SecureBytes, error) {
	blob, ok := s.wrappedMainKeyByLabel[wrappingID]
	if !ok {
		return nil, autherrors.New(autherrors.KindKeyNotFound, nil, "uss: no wrapping for id %q", wrappingID)
	}
	plaintext, err := authcrypto.AESCBCDecrypt(wrappingKey, blob.iv, blob.ciphertext)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	return authcrypto.SecureBytes(plaintext), nil
}

// SetResetSecretForLabel records label's reset secret.
func (s *Stash) SetResetSecretForLabel(label string, secret authcrypto.SecureBytes) {
	s.resetSecretByLabel[label] = secret
}

// RemoveResetSecretForLabel drops label's reset secret, if any.
func (s *Stash) RemoveResetSecretForLabel(label string) {
	delete(s.resetSecretByLabel, label)
}

// GetResetSecretForLabel returns label's reset secret, if recorded.
func (s *Stash) GetResetSecretForLabel(label string) (authcrypto.SecureBytes, bool) {
	secret, ok := s.resetSecretByLabel[label]
	return secret, ok
}

// InitializeFingerprintRateLimiterID records label as the shared
// fingerprint rate-limiter leaf. Write-once: a second call fails (§4.5).
func (s *Stash) InitializeFingerprintRateLimiterID(label secureelement.Label) error {
	if s.fingerprintRateLimiterLabel != nil {
		return autherrors.New(autherrors.KindAddCredentialsFailed, nil, "uss: fingerprint rate limiter already initialized")
	}
	s.fingerprintRateLimiterLabel = &label
	return nil
}

// GetFingerprintRateLimiterID returns the shared rate-limiter leaf, if
// one has been initialized.
func (s *Stash) GetFingerprintRateLimiterID() (secureelement.Label, bool) {
	if s.fingerprintRateLimiterLabel == nil {
		return 0, false
	}
	return *s.fingerprintRateLimiterLabel, true
}

// SetRateLimiterResetSecret records factorType's rate-limiter reset
// secret. Write-once, like InitializeFingerprintRateLimiterID (§4.5).
func (s *Stash) SetRateLimiterResetSecret(factorType string, secret authcrypto.SecureBytes) error {
	if _, exists := s.resetSecretByType[factorType]; exists {
		return autherrors.New(autherrors.KindAddCredentialsFailed, nil, "uss: rate limiter reset secret for %q already set", factorType)
	}
	s.resetSecretByType[factorType] = secret
	return nil
}

// GetRateLimiterResetSecret returns factorType's rate-limiter reset
// secret, if recorded.
func (s *Stash) GetRateLimiterResetSecret(factorType string) (authcrypto.SecureBytes, bool) {
	secret, ok := s.resetSecretByType[factorType]
	return secret, ok
}

// Labels returns every wrapping label currently present.
func (s *Stash) Labels() []string {
	labels := make([]string, 0, len(s.wrappedMainKeyByLabel))
	for label := range s.wrappedMainKeyByLabel {
		labels = append(labels, label)
	}
	return labels
}
