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

package vaultkeyset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
)

func testBlobs(t *testing.T) *authblock.KeyBlobs {
	t.Helper()
	vkkKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	vkkIV, err := authcrypto.Random(16)
	require.NoError(t, err)
	chapsIV, err := authcrypto.Random(16)
	require.NoError(t, err)
	return &authblock.KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV}
}

func TestVaultKeysetEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	blobs := testBlobs(t)
	resetSeed, err := authcrypto.Random(32)
	require.NoError(t, err)

	vk, err := Encrypt(0, "legacy-0", authfactor.TypePassword, authfactor.PasswordMetadata{}, nil, blobs, fsKeyset, resetSeed)
	require.NoError(t, err)
	require.True(t, vk.HasResetSeed())

	decrypted, decryptedSeed, err := vk.Decrypt(blobs)
	require.NoError(t, err)
	require.Equal(t, []byte(fsKeyset.FEK), []byte(decrypted.FEK))
	require.Equal(t, []byte(fsKeyset.FNEK), []byte(decrypted.FNEK))
	require.Equal(t, []byte(fsKeyset.ChapsKey), []byte(decrypted.ChapsKey))
	require.Equal(t, []byte(resetSeed), []byte(decryptedSeed))
}

func TestVaultKeysetDecryptWrongBlobsFails(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	blobs := testBlobs(t)

	vk, err := Encrypt(0, "legacy-0", authfactor.TypePassword, authfactor.PasswordMetadata{}, nil, blobs, fsKeyset, nil)
	require.NoError(t, err)
	require.False(t, vk.HasResetSeed())

	wrongBlobs := testBlobs(t)
	_, _, err = vk.Decrypt(wrongBlobs)
	require.Error(t, err)
}

func TestVaultKeysetMarkers(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	blobs := testBlobs(t)
	vk, err := Encrypt(1, "pin1", authfactor.TypePin, authfactor.PinMetadata{}, nil, blobs, fsKeyset, nil)
	require.NoError(t, err)

	require.False(t, vk.Backup)
	require.False(t, vk.Migrated)
	require.False(t, vk.AuthLocked)

	vk.MarkBackup()
	vk.MarkMigrated()
	vk.SetAuthLocked(true)

	require.True(t, vk.Backup)
	require.True(t, vk.Migrated)
	require.True(t, vk.AuthLocked)
}

func TestMemStoreSaveLoadDeleteNextIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	blobs := testBlobs(t)
	vk, err := Encrypt(0, "legacy-0", authfactor.TypePassword, authfactor.PasswordMetadata{}, nil, blobs, fsKeyset, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "user-a", vk))

	loaded, err := store.Load(ctx, "user-a", 0)
	require.NoError(t, err)
	require.Equal(t, "legacy-0", loaded.Label)

	byLabel, err := store.LoadByLabel(ctx, "user-a", "legacy-0")
	require.NoError(t, err)
	require.Equal(t, 0, byLabel.Index)

	next, err := store.NextIndex(ctx, "user-a")
	require.NoError(t, err)
	require.Equal(t, 1, next)

	indices, err := store.ListIndices(ctx, "user-a")
	require.NoError(t, err)
	require.Equal(t, []int{0}, indices)

	require.NoError(t, store.Delete(ctx, "user-a", 0))
	_, err = store.Load(ctx, "user-a", 0)
	require.Error(t, err)
}
