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

// CryptohomeRecoveryState is the persisted AuthBlockState for the
// CryptohomeRecovery AuthBlock. PlaintextDestinationShare is, as its
// name in the data model implies, not itself secret-protected beyond
// USS/VK storage: it is one half of a two-way XOR split whose other
// half only the recovery mediator can reconstruct.
type CryptohomeRecoveryState struct {
	HSMPayload                []byte
	PlaintextDestinationShare authcrypto.SecureBytes
	ChannelPubKey             []byte
	EncryptedChannelPrivKey   []byte
	VKKIV                     authcrypto.SecureBytes
	ChapsIV                   authcrypto.SecureBytes
	RevocationState           authfactor.State
}

// Variant implements authfactor.State.
func (CryptohomeRecoveryState) Variant() string { return "cryptohome_recovery" }

// RecoveryMediator is the external recovery-service collaborator (§6):
// the epoch/ledger/mediator protocol itself lives outside this module;
// this AuthBlock only assembles requests for it and consumes its
// responses. GenerateHSMPayload embeds mediatorShare (this device's
// half of the XOR split the mediator must return during Recover) into
// the payload sent off-device at enrollment time.
type RecoveryMediator interface {
	GenerateHSMPayload(ctx context.Context, in *RecoveryInput, mediatorShare authcrypto.SecureBytes) (hsmPayload, channelPubKey, encryptedChannelPrivKey []byte, err error)
	Recover(ctx context.Context, in *RecoveryInput, encryptedChannelPrivKey []byte) (mediatorShare authcrypto.SecureBytes, err error)
}

// CryptohomeRecovery is the cryptohome-recovery AuthBlock (§4.3).
type CryptohomeRecovery struct {
	mediator RecoveryMediator
}

// NewCryptohomeRecovery returns a CryptohomeRecovery block driven by
// mediator.
func NewCryptohomeRecovery(mediator RecoveryMediator) *CryptohomeRecovery {
	return &CryptohomeRecovery{mediator: mediator}
}

func (b *CryptohomeRecovery) IsSupported(context.Context) error { return nil }

// Create generates an ephemeral 2-of-2 XOR secret split locally: one
// share (destination) is kept plaintext in the persisted state, the
// other (mediator) is handed to the mediator collaborator now and only
// recoverable later via its off-device protocol.
func (b *CryptohomeRecovery) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	if in.Recovery == nil {
		return nil, nil, trace.BadParameter("authblock: recovery input required")
	}

	secret, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer secret.Zero()
	destinationShare, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	mediatorShare := xorBytes(secret, destinationShare)
	defer authcrypto.SecureBytes(mediatorShare).Zero()

	hsmPayload, channelPub, encPriv, err := b.mediator.GenerateHSMPayload(ctx, in.Recovery, mediatorShare)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}

	vkkKey, err := authcrypto.HKDFSHA256(secret, nil, []byte("recovery_vkk"), defaults.DerivedKeySize)
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

	state := CryptohomeRecoveryState{
		HSMPayload:                hsmPayload,
		PlaintextDestinationShare: destinationShare,
		ChannelPubKey:             channelPub,
		EncryptedChannelPrivKey:   encPriv,
		VKKIV:                     vkkIV,
		ChapsIV:                   chapsIV,
	}
	return state, &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV}, nil
}

// Derive reconstructs secret = destinationShare XOR mediatorShare from a
// recovery response produced off-device, then re-derives vkk_key.
func (b *CryptohomeRecovery) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(CryptohomeRecoveryState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected CryptohomeRecoveryState, got %T", rawState)
	}
	if in.Recovery == nil || len(in.Recovery.RecoveryResponse) == 0 {
		return nil, trace.BadParameter("authblock: recovery response required")
	}

	mediatorShare, err := b.mediator.Recover(ctx, in.Recovery, state.EncryptedChannelPrivKey)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	defer mediatorShare.Zero()

	secret := xorBytes(mediatorShare, state.PlaintextDestinationShare)
	defer authcrypto.SecureBytes(secret).Zero()

	vkkKey, err := authcrypto.HKDFSHA256(secret, nil, []byte("recovery_vkk"), defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV}, nil
}

// PrepareForRemoval is a no-op unless this factor was combined with the
// revocation wrapper, in which case the wrapper itself (not this block)
// owns the PinWeaver leaf release.
func (b *CryptohomeRecovery) PrepareForRemoval(context.Context, authfactor.State) error { return nil }

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

var _ Block = (*CryptohomeRecovery)(nil)
