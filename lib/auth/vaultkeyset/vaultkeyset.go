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

// Package vaultkeyset implements the legacy VaultKeyset (§4.6): a full
// per-factor wrapped keyset, retained alongside the UserSecretStash for
// users that predate it and, during migration, as a backup until policy
// allows removal.
package vaultkeyset

import (
	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
)

// wrapped is an AES-CBC-wrapped blob: iv ‖ ciphertext.
type wrapped struct {
	iv         []byte
	ciphertext []byte
}

// VaultKeyset is the legacy per-factor keyset (§3, §4.6). A user's VKs
// share a ResetSeed (present only on the VK that originated it, usually
// the first password); a PIN VK's reset secret is
// HMAC(reset_salt, reset_seed).
type VaultKeyset struct {
	Index int
	Label string
	Type  authfactor.Type

	Metadata authfactor.Metadata
	State    authfactor.State

	wrappedFEK      wrapped
	wrappedFNEK     wrapped
	wrappedChapsKey wrapped
	wrappedReset    *wrapped

	Backup     bool
	Migrated   bool
	AuthLocked bool
}

// Encrypt wraps fsKeyset (and, when non-empty, resetSeed) under blobs'
// VKKKey/VKKIV/ChapsIV and returns a new VaultKeyset carrying state.
// This is the VK-storage-path counterpart to uss.Stash.AddWrappedMainKey
// (§4.6's "Encrypt(KeyBlobs, state)").
func Encrypt(index int, label string, typ authfactor.Type, metadata authfactor.Metadata, state authfactor.State, blobs *authblock.KeyBlobs, fsKeyset *fskeyset.FileSystemKeyset, resetSeed authcrypto.SecureBytes) (*VaultKeyset, error) {
	wrapFEK, err := wrapBlob(blobs.VKKKey, blobs.VKKIV, fsKeyset.FEK)
	if err != nil {
		return nil, trace.Wrap(err, "failed to wrap FEK")
	}
	wrapFNEK, err := wrapBlob(blobs.VKKKey, blobs.VKKIV, fsKeyset.FNEK)
	if err != nil {
		return nil, trace.Wrap(err, "failed to wrap FNEK")
	}
	wrapChapsKey, err := wrapBlob(blobs.VKKKey, blobs.ChapsIV, fsKeyset.ChapsKey)
	if err != nil {
		return nil, trace.Wrap(err, "failed to wrap chaps key")
	}

	vk := &VaultKeyset{
		Index:           index,
		Label:           label,
		Type:            typ,
		Metadata:        metadata,
		State:           state,
		wrappedFEK:      wrapFEK,
		wrappedFNEK:     wrapFNEK,
		wrappedChapsKey: wrapChapsKey,
	}

	if len(resetSeed) > 0 {
		wrapResetSeed, err := wrapBlob(blobs.VKKKey, blobs.VKKIV, resetSeed)
		if err != nil {
			return nil, trace.Wrap(err, "failed to wrap reset seed")
		}
		vk.wrappedReset = &wrapResetSeed
	}

	return vk, nil
}

// Decrypt reverses Encrypt given the KeyBlobs a matching AuthBlock.Derive
// call produced, returning the user's FileSystemKeyset and, if this VK
// carries one, the shared reset seed.
func (vk *VaultKeyset) Decrypt(blobs *authblock.KeyBlobs) (*fskeyset.FileSystemKeyset, authcrypto.SecureBytes, error) {
	fek, err := unwrapBlob(blobs.VKKKey, blobs.VKKIV, vk.wrappedFEK)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	fnek, err := unwrapBlob(blobs.VKKKey, blobs.VKKIV, vk.wrappedFNEK)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	chapsKey, err := unwrapBlob(blobs.VKKKey, blobs.ChapsIV, vk.wrappedChapsKey)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	fsKeyset := &fskeyset.FileSystemKeyset{
		FEK:      fek,
		FNEK:     fnek,
		ChapsKey: chapsKey,
	}

	var resetSeed authcrypto.SecureBytes
	if vk.wrappedReset != nil {
		resetSeed, err = unwrapBlob(blobs.VKKKey, blobs.VKKIV, *vk.wrappedReset)
		if err != nil {
			return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
		}
	}

	return fsKeyset, resetSeed, nil
}

// HasResetSeed reports whether this VK carries the shared reset seed.
func (vk *VaultKeyset) HasResetSeed() bool { return vk.wrappedReset != nil }

// MarkBackup flags this VK as a USS-migration backup copy.
func (vk *VaultKeyset) MarkBackup() { vk.Backup = true }

// MarkMigrated flags this VK as having produced an equivalent USS
// factor.
func (vk *VaultKeyset) MarkMigrated() { vk.Migrated = true }

// SetAuthLocked records a PinWeaver permanent lockout observed on this
// VK's backing leaf, so a subsequent Load can short-circuit without a
// hardware call (§4.9.2's PIN-specifics-on-failure).
func (vk *VaultKeyset) SetAuthLocked(locked bool) { vk.AuthLocked = locked }

func wrapBlob(key, iv, plaintext authcrypto.SecureBytes) (wrapped, error) {
	ciphertext, err := authcrypto.AESCBCEncrypt(key, iv, plaintext)
	if err != nil {
		return wrapped{}, trace.Wrap(err)
	}
	return wrapped{iv: append([]byte{}, iv...), ciphertext: ciphertext}, nil
}

func unwrapBlob(key, iv authcrypto.SecureBytes, w wrapped) (authcrypto.SecureBytes, error) {
	plaintext, err := authcrypto.AESCBCDecrypt(key, iv, w.ciphertext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return authcrypto.SecureBytes(plaintext), nil
}
