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

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// TPMState is the persisted AuthBlockState shared by TpmBoundToPcr and
// TpmNotBoundToPcr (§4.3); BoundToPCR selects which Variant string and
// which seal policy applies.
type TPMState struct {
	Salt                authcrypto.SecureBytes
	SealedHVKKM         []byte
	ExtendedSealedHVKKM []byte
	VKKIV               authcrypto.SecureBytes
	ChapsIV             authcrypto.SecureBytes
	BoundToPCR          bool
}

// Variant implements authfactor.State.
func (s TPMState) Variant() string {
	if s.BoundToPCR {
		return "tpm_bound_to_pcr"
	}
	return "tpm_not_bound_to_pcr"
}

// TPM implements both TpmBoundToPcr (boundToPCR=true) and
// TpmNotBoundToPcr (boundToPCR=false): scrypt over the password yields a
// user key, a random HVKKM (hardware-vault-keyset-key-material) is
// sealed to the secure element under the selected policy, and vkk_key =
// HMAC(user_key, hvkkm) (§4.3).
type TPM struct {
	client     secureelement.Client
	boundToPCR bool
}

// NewTPM returns a TPM AuthBlock sealing HVKKM under the current-user PCR
// policy when boundToPCR is true, or the null-user policy otherwise.
func NewTPM(client secureelement.Client, boundToPCR bool) *TPM {
	return &TPM{client: client, boundToPCR: boundToPCR}
}

func (b *TPM) IsSupported(ctx context.Context) error {
	if !b.client.IsReady(ctx) {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authblock: secure element not ready")
	}
	return nil
}

func (b *TPM) policies(in *Input) secureelement.Policies {
	return secureelement.Policies{CurrentUser: b.boundToPCR, Label: in.ObfuscatedUsername}
}

func (b *TPM) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	salt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	subs, err := authcrypto.ScryptDerive(in.Secret, salt, defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	userKey := subs[0]
	defer userKey.Zero()

	hvkkm, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer hvkkm.Zero()

	sealed, err := b.client.Seal(ctx, b.policies(in), hvkkm)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	// The extended blob is sealed under the null-user policy so a
	// pre-auth login screen (no user session active yet) can still
	// unseal it to populate user-list metadata.
	extendedSealed, err := b.client.Seal(ctx, secureelement.Policies{Label: in.ObfuscatedUsername}, hvkkm)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}

	vkkKey := authcrypto.HMACSHA256(userKey, hvkkm)
	vkkIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := TPMState{
		Salt:                salt,
		SealedHVKKM:         sealed,
		ExtendedSealedHVKKM: extendedSealed,
		VKKIV:               vkkIV,
		ChapsIV:             chapsIV,
		BoundToPCR:          b.boundToPCR,
	}
	return state, &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV}, nil
}

func (b *TPM) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(TPMState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected TPMState, got %T", rawState)
	}

	subs, err := authcrypto.ScryptDerive(in.Secret, state.Salt, defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	userKey := subs[0]
	defer userKey.Zero()

	hvkkm, err := b.client.Unseal(ctx, b.policies(in), state.SealedHVKKM)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	defer authcrypto.SecureBytes(hvkkm).Zero()

	vkkKey := authcrypto.HMACSHA256(userKey, hvkkm)
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV}, nil
}

// PrepareForRemoval is a no-op: sealed HVKKM blobs need no hardware-side
// release, unlike a PinWeaver leaf.
func (b *TPM) PrepareForRemoval(context.Context, authfactor.State) error { return nil }
