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
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// PasswordScryptState is the persisted AuthBlockState for PasswordScrypt.
type PasswordScryptState struct {
	Salt          authcrypto.SecureBytes
	ChapsSalt     authcrypto.SecureBytes
	ResetSeedSalt authcrypto.SecureBytes
	VKKSeed       authcrypto.SecureBytes
	VKKIV         authcrypto.SecureBytes
	ChapsIV       authcrypto.SecureBytes
}

// Variant implements authfactor.State.
func (PasswordScryptState) Variant() string { return "password_scrypt" }

// PasswordScrypt is the simplest AuthBlock: password + scrypt, no
// hardware round trip (§4.3).
type PasswordScrypt struct{}

// NewPasswordScrypt returns a PasswordScrypt block.
func NewPasswordScrypt() *PasswordScrypt { return &PasswordScrypt{} }

func (b *PasswordScrypt) IsSupported(context.Context) error { return nil }

// Create derives {aes_skey, kdf_skey} via one scrypt pass over
// secret+salt, then vkk_key = HMAC(kdf_skey, vkk_seed) for a freshly
// random vkk_seed persisted alongside the salt so Derive can reproduce
// it. aes_skey is derived but not surfaced in KeyBlobs: this
// implementation uses vkk_key uniformly as the USS/VK wrapping secret
// (§4.5), so aes_skey has no separate consumer here.
func (b *PasswordScrypt) Create(_ context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	salt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsSalt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	resetSeedSalt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	vkkSeed, err := authcrypto.Random(defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	subs, err := authcrypto.ScryptDerive(in.Secret, salt, defaults.DerivedKeySize, defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer subs[0].Zero()
	kdfSkey := subs[1]
	defer kdfSkey.Zero()

	vkkKey := authcrypto.HMACSHA256(kdfSkey, vkkSeed)
	vkkIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := PasswordScryptState{
		Salt:          salt,
		ChapsSalt:     chapsSalt,
		ResetSeedSalt: resetSeedSalt,
		VKKSeed:       vkkSeed,
		VKKIV:         vkkIV,
		ChapsIV:       chapsIV,
	}
	return state, &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV}, nil
}

// Derive recomputes vkk_key from the stored salt and vkk_seed. Whether
// the password actually matched is observed downstream, by whether the
// resulting vkk_key successfully unwraps the USS main key or decrypts
// the VaultKeyset — PasswordScrypt itself has no independent integrity
// check.
func (b *PasswordScrypt) Derive(_ context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(PasswordScryptState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected PasswordScryptState, got %T", rawState)
	}

	subs, err := authcrypto.ScryptDerive(in.Secret, state.Salt, defaults.DerivedKeySize, defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer subs[0].Zero()
	kdfSkey := subs[1]
	defer kdfSkey.Zero()

	vkkKey := authcrypto.HMACSHA256(kdfSkey, state.VKKSeed)
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV}, nil
}

func (b *PasswordScrypt) PrepareForRemoval(context.Context, authfactor.State) error { return nil }
