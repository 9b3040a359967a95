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
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// ChallengeCredentialState is the persisted AuthBlockState for the
// ChallengeCredential AuthBlock.
type ChallengeCredentialState struct {
	Salt               authcrypto.SecureBytes
	PublicKeySPKIDER   []byte
	SignatureAlgorithm string
	VKKIV              authcrypto.SecureBytes
	ChapsIV            authcrypto.SecureBytes
}

// Variant implements authfactor.State.
func (ChallengeCredentialState) Variant() string { return "challenge_credential" }

// KeyDelegate is the external signing-service collaborator (§6): a smart
// card (or other hardware key) that signs a challenge over its own
// protocol, never handing the private key itself to this process.
type KeyDelegate interface {
	Challenge(ctx context.Context, serviceName string, publicKeySPKIDER, challenge []byte, algorithms []string) (signature []byte, algorithm string, err error)
}

// ChallengeCredential delegates user-secret derivation to a KeyDelegate
// (§4.3): a fixed, salted challenge is re-signed on every Create/Derive
// call, and the signature (not the key) feeds HKDF to produce vkk_key.
type ChallengeCredential struct {
	delegate KeyDelegate
}

// NewChallengeCredential returns a ChallengeCredential block driven by
// delegate.
func NewChallengeCredential(delegate KeyDelegate) *ChallengeCredential {
	return &ChallengeCredential{delegate: delegate}
}

func (b *ChallengeCredential) IsSupported(context.Context) error { return nil }

func (b *ChallengeCredential) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	if in.ChallengeCredential == nil {
		return nil, nil, trace.BadParameter("authblock: challenge credential input required")
	}

	salt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	challenge := authcrypto.HMACSHA256(salt, []byte("challenge_credential"))

	sig, alg, err := b.delegate.Challenge(ctx, in.ChallengeCredential.KeyDelegateService, in.ChallengeCredential.PublicKeySPKIDER, challenge, in.ChallengeCredential.SignatureAlgorithms)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	vkkKey, err := authcrypto.HKDFSHA256(sig, salt, []byte("challenge_credential_vkk"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	vkkIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := ChallengeCredentialState{
		Salt:               salt,
		PublicKeySPKIDER:   in.ChallengeCredential.PublicKeySPKIDER,
		SignatureAlgorithm: alg,
		VKKIV:              vkkIV,
		ChapsIV:            chapsIV,
	}
	return state, &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV}, nil
}

func (b *ChallengeCredential) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(ChallengeCredentialState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected ChallengeCredentialState, got %T", rawState)
	}
	if in.ChallengeCredential == nil {
		return nil, trace.BadParameter("authblock: challenge credential input required")
	}

	challenge := authcrypto.HMACSHA256(state.Salt, []byte("challenge_credential"))
	sig, _, err := b.delegate.Challenge(ctx, in.ChallengeCredential.KeyDelegateService, state.PublicKeySPKIDER, challenge, []string{state.SignatureAlgorithm})
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	vkkKey, err := authcrypto.HKDFSHA256(sig, state.Salt, []byte("challenge_credential_vkk"), defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV}, nil
}

func (b *ChallengeCredential) PrepareForRemoval(context.Context, authfactor.State) error { return nil }

// PrepareForAuth opens no persistent session itself (the delegate call is
// made inline by Derive), but still satisfies Preparable so the
// orchestrator can uniformly Prepare/Terminate every out-of-band factor
// type; Terminate here is a no-op.
func (b *ChallengeCredential) PrepareForAuth(context.Context, string) (*PreparedToken, error) {
	return NewPreparedToken(nil), nil
}

var _ Block = (*ChallengeCredential)(nil)
var _ Preparable = (*ChallengeCredential)(nil)
