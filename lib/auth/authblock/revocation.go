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

package authblock

import (
	"context"
	"errors"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// RevocationState wraps an inner AuthBlock's State with the PinWeaver
// leaf backing the revocation wrapper.
type RevocationState struct {
	Inner authfactor.State
	Label secureelement.Label
}

// Variant implements authfactor.State.
func (RevocationState) Variant() string { return "revocation" }

// Revocation wraps another AuthBlock's derived vkk_key as a revocable
// PinWeaver-backed secret (§4.3): HKDF-split into {le_secret, kdf_skey},
// inserted with a schedule that never locks on attempts
// (secureelement.RevocationDelaySchedule), so revoking a credential is
// just pw_remove(label).
type Revocation struct {
	inner  Block
	client secureelement.Client
}

// NewRevocation wraps inner with a revocation PinWeaver leaf.
func NewRevocation(inner Block, client secureelement.Client) *Revocation {
	return &Revocation{inner: inner, client: client}
}

func (b *Revocation) IsSupported(ctx context.Context) error {
	if !b.client.IsPinWeaverEnabled(ctx) {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authblock: PinWeaver not enabled for revocation wrapper")
	}
	return b.inner.IsSupported(ctx)
}

func (b *Revocation) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	innerState, innerBlobs, err := b.inner.Create(ctx, in)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	leSecret, err := authcrypto.HKDFSHA256(innerBlobs.VKKKey, nil, []byte("le_secret"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer leSecret.Zero()
	kdfSkey, err := authcrypto.HKDFSHA256(innerBlobs.VKKKey, nil, []byte("kdf_skey"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer kdfSkey.Zero()

	heSecret, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer heSecret.Zero()
	// The revocation schedule never locks, so a real resetSecret is
	// never actually used; PWInsert still requires one.
	resetSecret, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	label, err := b.client.PWInsert(ctx, secureelement.Policies{Label: in.ObfuscatedUsername}, leSecret, heSecret, resetSecret, secureelement.RevocationDelaySchedule(), nil)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}

	vkkKey, err := hkdfCombine(heSecret, kdfSkey)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := RevocationState{Inner: innerState, Label: label}
	kb := &KeyBlobs{
		VKKKey:           vkkKey,
		VKKIV:            innerBlobs.VKKIV,
		ChapsIV:          innerBlobs.ChapsIV,
		ResetSecret:      innerBlobs.ResetSecret,
		RateLimiterLabel: innerBlobs.RateLimiterLabel,
	}
	return state, kb, nil
}

func (b *Revocation) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(RevocationState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected RevocationState, got %T", rawState)
	}

	innerBlobs, err := b.inner.Derive(ctx, in, state.Inner)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	leSecret, err := authcrypto.HKDFSHA256(innerBlobs.VKKKey, nil, []byte("le_secret"), defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer leSecret.Zero()
	kdfSkey, err := authcrypto.HKDFSHA256(innerBlobs.VKKKey, nil, []byte("kdf_skey"), defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer kdfSkey.Zero()

	heSecret, _, err := b.client.PWCheck(ctx, state.Label, leSecret)
	if err != nil {
		if errors.Is(err, secureelement.ErrInvalidLabel) || errors.Is(err, secureelement.ErrHashTreeLost) {
			return nil, autherrors.Wrap(autherrors.KindCredentialLocked, []autherrors.Action{autherrors.ActionLELockedOut}, err)
		}
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	defer authcrypto.SecureBytes(heSecret).Zero()

	vkkKey, err := hkdfCombine(heSecret, kdfSkey)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &KeyBlobs{
		VKKKey:           vkkKey,
		VKKIV:            innerBlobs.VKKIV,
		ChapsIV:          innerBlobs.ChapsIV,
		ResetSecret:      innerBlobs.ResetSecret,
		RateLimiterLabel: innerBlobs.RateLimiterLabel,
	}, nil
}

func (b *Revocation) PrepareForRemoval(ctx context.Context, rawState authfactor.State) error {
	state, ok := rawState.(RevocationState)
	if !ok {
		return trace.BadParameter("authblock: expected RevocationState, got %T", rawState)
	}

	innerErr := b.inner.PrepareForRemoval(ctx, state.Inner)
	err := b.client.PWRemove(ctx, state.Label)
	if !secureelement.IsIdempotentRemoval(err) {
		return autherrors.Wrap(autherrors.KindRemoveCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return trace.Wrap(innerErr)
}

func hkdfCombine(heSecret, kdfSkey authcrypto.SecureBytes) (authcrypto.SecureBytes, error) {
	combined := append(append([]byte{}, heSecret...), kdfSkey...)
	defer authcrypto.SecureBytes(combined).Zero()
	return authcrypto.HKDFSHA256(combined, nil, []byte("hkdf_data"), defaults.DerivedKeySize)
}

var _ Block = (*Revocation)(nil)
