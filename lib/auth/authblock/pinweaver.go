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

// PinWeaverState is the persisted AuthBlockState for the PIN AuthBlock.
type PinWeaverState struct {
	Label   secureelement.Label
	Salt    authcrypto.SecureBytes
	ChapsIV authcrypto.SecureBytes
	VKKIV   authcrypto.SecureBytes
}

// Variant implements authfactor.State.
func (PinWeaverState) Variant() string { return "pinweaver" }

// PinWeaver is the PIN AuthBlock (§4.3): a scrypt-derived le_secret/
// kdf_skey pair guards a PinWeaver leaf whose he_secret feeds vkk_key.
type PinWeaver struct {
	client        secureelement.Client
	attemptsLimit uint32
}

// NewPinWeaver returns a PinWeaver block inserting leaves with the
// default delay schedule: attemptsLimit wrong attempts, then permanent
// lockout.
func NewPinWeaver(client secureelement.Client, attemptsLimit uint32) *PinWeaver {
	return &PinWeaver{client: client, attemptsLimit: attemptsLimit}
}

func (b *PinWeaver) IsSupported(ctx context.Context) error {
	if !b.client.IsPinWeaverEnabled(ctx) {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authblock: PinWeaver not enabled")
	}
	return nil
}

func (b *PinWeaver) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	salt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	subs, err := authcrypto.ScryptDerive(in.Secret, salt, defaults.DerivedKeySize, defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	leSecret, kdfSkey := subs[0], subs[1]
	defer leSecret.Zero()
	defer kdfSkey.Zero()

	heSecret, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer heSecret.Zero()

	resetSecret := in.ResetSecret
	if len(resetSecret) == 0 {
		resetSecret = authcrypto.HMACSHA256(in.ResetSalt, in.ResetSeed)
	}

	schedule := secureelement.DefaultPinDelaySchedule(b.attemptsLimit)
	policies := secureelement.Policies{CurrentUser: true, Label: in.ObfuscatedUsername}
	label, err := b.client.PWInsert(ctx, policies, leSecret, heSecret, resetSecret, schedule, nil)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}

	vkkSeed := authcrypto.HMACSHA256(heSecret, []byte("vkk_seed"))
	vkkKey := authcrypto.HMACSHA256(kdfSkey, vkkSeed)
	vkkIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := PinWeaverState{Label: label, Salt: salt, ChapsIV: chapsIV, VKKIV: vkkIV}
	kb := &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV, ResetSecret: resetSecret}
	return state, kb, nil
}

func (b *PinWeaver) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(PinWeaverState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected PinWeaverState, got %T", rawState)
	}

	subs, err := authcrypto.ScryptDerive(in.Secret, state.Salt, defaults.DerivedKeySize, defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	leSecret, kdfSkey := subs[0], subs[1]
	defer leSecret.Zero()
	defer kdfSkey.Zero()

	heSecret, resetSecret, err := b.client.PWCheck(ctx, state.Label, leSecret)
	if err != nil {
		return nil, b.classifyCheckError(ctx, state.Label, err)
	}
	defer authcrypto.SecureBytes(heSecret).Zero()

	vkkSeed := authcrypto.HMACSHA256(heSecret, []byte("vkk_seed"))
	vkkKey := authcrypto.HMACSHA256(kdfSkey, vkkSeed)
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV, ResetSecret: resetSecret}, nil
}

// classifyCheckError maps a PWCheck failure onto the error taxonomy: an
// already-permanent lockout (either reported directly, or detected by a
// follow-up delay query after a wrong-secret response that crossed the
// threshold) becomes CredentialLocked with the le_locked_out action; any
// other wrong-secret response is a plain authorization failure.
func (b *PinWeaver) classifyCheckError(ctx context.Context, label secureelement.Label, err error) error {
	if errors.Is(err, secureelement.ErrCredentialLocked) {
		return autherrors.Wrap(autherrors.KindCredentialLocked, []autherrors.Action{autherrors.ActionLELockedOut}, err)
	}
	if errors.Is(err, secureelement.ErrInvalidLESecret) {
		if delay, derr := b.client.PWGetDelaySeconds(ctx, label); derr == nil && delay == secureelement.DelayInfinite {
			return autherrors.Wrap(autherrors.KindCredentialLocked, []autherrors.Action{autherrors.ActionLELockedOut}, err)
		}
		return autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
}

func (b *PinWeaver) PrepareForRemoval(ctx context.Context, rawState authfactor.State) error {
	state, ok := rawState.(PinWeaverState)
	if !ok {
		return trace.BadParameter("authblock: expected PinWeaverState, got %T", rawState)
	}
	err := b.client.PWRemove(ctx, state.Label)
	if !secureelement.IsIdempotentRemoval(err) {
		return autherrors.Wrap(autherrors.KindRemoveCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}

// ResetCounter restores state's attempt counter using resetSecret,
// implementing CounterResetter: a successful authentication with any
// other factor clears every PIN's lockout as long as its reset secret is
// known (§4.9.2).
func (b *PinWeaver) ResetCounter(ctx context.Context, rawState authfactor.State, resetSecret authcrypto.SecureBytes) error {
	state, ok := rawState.(PinWeaverState)
	if !ok {
		return trace.BadParameter("authblock: expected PinWeaverState, got %T", rawState)
	}
	if err := b.client.PWReset(ctx, state.Label, resetSecret); err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}

var _ Block = (*PinWeaver)(nil)
var _ Block = (*PasswordScrypt)(nil)
var _ Block = (*TPM)(nil)
var _ CounterResetter = (*PinWeaver)(nil)
