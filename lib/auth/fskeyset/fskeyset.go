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

// Package fskeyset holds the FileSystemKeyset: the symmetric keys that
// actually encrypt a user's files. Created once at user creation and
// stable for the user's lifetime, it is never persisted in the clear —
// it is always wrapped inside a UserSecretStash or a VaultKeyset.
package fskeyset

import (
	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
)

// keySize is the size in bytes of each individual key/signature in the
// keyset.
const keySize = 32

// hibernateSecretInfo is the HMAC message used to derive the hibernate
// secret from fnek||fek.
const hibernateSecretInfo = "AuthTimeHibernateSecret"

// FileSystemKeyset is the per-user symmetric keyset that encrypts file
// content (FEK), file names (FNEK), and Chaps (PKCS#11 token) contents.
// The *Sig fields are the public commitments an AuthBlock can reference
// without exposing the underlying key.
type FileSystemKeyset struct {
	FEK      authcrypto.SecureBytes
	FNEK     authcrypto.SecureBytes
	FEKSig   authcrypto.SecureBytes
	FNEKSig  authcrypto.SecureBytes
	ChapsKey authcrypto.SecureBytes
}

// New generates a fresh, random FileSystemKeyset, as happens exactly once
// on OnUserCreated for a persistent user.
func New() (*FileSystemKeyset, error) {
	fek, err := authcrypto.Random(keySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate FEK")
	}
	fnek, err := authcrypto.Random(keySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate FNEK")
	}
	fekSig, err := authcrypto.Random(keySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate FEK signature")
	}
	fnekSig, err := authcrypto.Random(keySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate FNEK signature")
	}
	chapsKey, err := authcrypto.Random(keySize)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate Chaps key")
	}

	return &FileSystemKeyset{
		FEK:      fek,
		FNEK:     fnek,
		FEKSig:   fekSig,
		FNEKSig:  fnekSig,
		ChapsKey: chapsKey,
	}, nil
}

// HibernateSecret returns HMAC(fnek||fek, "AuthTimeHibernateSecret"), the
// value AuthSession.get_hibernate_secret exposes.
func (k *FileSystemKeyset) HibernateSecret() authcrypto.SecureBytes {
	key := append(append([]byte{}, k.FNEK...), k.FEK...)
	return authcrypto.HMACSHA256(key, []byte(hibernateSecretInfo))
}

// Zero wipes every key in the set.
func (k *FileSystemKeyset) Zero() {
	k.FEK.Zero()
	k.FNEK.Zero()
	k.FEKSig.Zero()
	k.FNEKSig.Zero()
	k.ChapsKey.Zero()
}
