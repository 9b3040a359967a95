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

// Package verifier implements the credential verifier cache (§4.10):
// lightweight re-authentication for verify-only and WebAuthn intents on
// an already-decrypted session, with no secure-element round trip and
// no access to the filesystem keyset.
package verifier

import (
	"context"
	"crypto/hmac"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// Verifier is the minimum contract §4.10 describes: given the same
// secret presented at construction time, Verify returns nil; anything
// else returns an AuthorizationKeyFailed error. A Verifier never touches
// the secure element and carries no filesystem key material.
type Verifier interface {
	Label() string
	Type() authfactor.Type
	Verify(ctx context.Context, secret authcrypto.SecureBytes) error
}

// scryptVerifier is the sole concrete Verifier: it stores a scrypt-
// derived commitment to the secret observed at construction time
// (password/PIN entry, the hardware-bound AuthBlock's own Derive
// already having matched once this call session). Re-verification never
// touches the secure element again.
type scryptVerifier struct {
	label      string
	factType   authfactor.Type
	salt       authcrypto.SecureBytes
	commitment authcrypto.SecureBytes
}

// New builds a Verifier for label/factType from secret. Called once,
// right after a successful AddAuthFactor or AuthenticateAuthFactor, so
// later verify-only calls in the same session don't need the hardware.
func New(label string, factType authfactor.Type, secret authcrypto.SecureBytes) (Verifier, error) {
	salt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate verifier salt")
	}
	subs, err := authcrypto.ScryptDerive(secret, salt, defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to derive verifier commitment")
	}
	return &scryptVerifier{label: label, factType: factType, salt: salt, commitment: subs[0]}, nil
}

func (v *scryptVerifier) Label() string         { return v.label }
func (v *scryptVerifier) Type() authfactor.Type { return v.factType }

func (v *scryptVerifier) Verify(_ context.Context, secret authcrypto.SecureBytes) error {
	subs, err := authcrypto.ScryptDerive(secret, v.salt, defaults.DerivedKeySize)
	if err != nil {
		return trace.Wrap(err, "failed to derive candidate commitment")
	}
	defer subs[0].Zero()
	if !hmac.Equal(subs[0], v.commitment) {
		return autherrors.New(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, "verifier: secret mismatch for label %q", v.label)
	}
	return nil
}
