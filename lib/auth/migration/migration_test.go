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

package migration

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
)

const testUser = "obfuscated-user-1"

func newMigrator(t *testing.T) (*Migrator, *authfactor.Manager, uss.Store, vaultkeyset.Store) {
	t.Helper()
	factorStore := authfactor.NewMemStore()
	factorManager := authfactor.NewManager(factorStore, nil)
	ussStore := uss.NewMemStore()
	vkStore := vaultkeyset.NewMemStore()
	m := NewMigrator(factorManager, ussStore, vkStore, clockwork.NewFakeClock(), nil)
	return m, factorManager, ussStore, vkStore
}

func newPasswordVK(t *testing.T, index int, label string, secret authcrypto.SecureBytes, resetSeed authcrypto.SecureBytes) (*vaultkeyset.VaultKeyset, *fskeyset.FileSystemKeyset) {
	t.Helper()
	block := authblock.NewPasswordScrypt()
	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)

	state, blobs, err := block.Create(context.Background(), &authblock.Input{Secret: secret})
	require.NoError(t, err)

	vk, err := vaultkeyset.Encrypt(index, label, authfactor.TypePassword, nil, state, blobs, fsKeyset, resetSeed)
	require.NoError(t, err)
	return vk, fsKeyset
}

func TestMigrateOneCreatesFreshStash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secret := authcrypto.SecureBytes("hunter2")
	vk, fsKeyset := newPasswordVK(t, 0, "legacy-password", secret, nil)

	m, factorManager, ussStore, vkStore := newMigrator(t)
	require.NoError(t, vkStore.Save(ctx, testUser, vk))

	block := authblock.NewPasswordScrypt()
	status, err := m.MigrateOne(ctx, testUser, vk, &authblock.Input{Secret: secret}, fsKeyset, nil, block, true)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	exists, err := ussStore.Exists(ctx, testUser)
	require.NoError(t, err)
	require.True(t, exists)

	factor, err := factorManager.LoadAuthFactor(ctx, testUser, "legacy-password")
	require.NoError(t, err)
	require.Equal(t, authfactor.TypePassword, factor.Type)

	migrated, err := vkStore.Load(ctx, testUser, vk.Index)
	require.NoError(t, err)
	require.True(t, migrated.Migrated)
	require.True(t, migrated.Backup)
}

func TestMigrateOneExistingStashDeferred(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secret := authcrypto.SecureBytes("hunter2")
	vk, fsKeyset := newPasswordVK(t, 0, "legacy-password", secret, nil)

	m, _, ussStore, vkStore := newMigrator(t)
	require.NoError(t, vkStore.Save(ctx, testUser, vk))
	require.NoError(t, ussStore.Save(ctx, testUser, []byte("preexisting-container")))

	block := authblock.NewPasswordScrypt()
	status, err := m.MigrateOne(ctx, testUser, vk, &authblock.Input{Secret: secret}, fsKeyset, nil, block, true)
	require.Error(t, err)
	require.Equal(t, StatusFailedInput, status)

	// The VK must be left untouched: migration is retryable.
	unchanged, err := vkStore.Load(ctx, testUser, vk.Index)
	require.NoError(t, err)
	require.False(t, unchanged.Migrated)
}

func TestMigrateOnePinWithResetSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	resetSeed, err := authcrypto.Random(32)
	require.NoError(t, err)
	pinSecret := authcrypto.SecureBytes("1234")
	vk, fsKeyset := newPasswordVK(t, 1, "legacy-pin", pinSecret, resetSeed)
	vk.Type = authfactor.TypePin

	m, factorManager, _, vkStore := newMigrator(t)
	require.NoError(t, vkStore.Save(ctx, testUser, vk))

	block := authblock.NewPasswordScrypt()
	status, err := m.MigrateOne(ctx, testUser, vk, &authblock.Input{Secret: pinSecret}, fsKeyset, resetSeed, block, true)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	factor, err := factorManager.LoadAuthFactor(ctx, testUser, "legacy-pin")
	require.NoError(t, err)
	require.Equal(t, authfactor.TypePin, factor.Type)
}

func TestMigrateOnePinWithoutResetSeedFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pinSecret := authcrypto.SecureBytes("1234")
	vk, fsKeyset := newPasswordVK(t, 1, "legacy-pin", pinSecret, nil)
	vk.Type = authfactor.TypePin

	m, _, _, vkStore := newMigrator(t)
	require.NoError(t, vkStore.Save(ctx, testUser, vk))

	block := authblock.NewPasswordScrypt()
	status, err := m.MigrateOne(ctx, testUser, vk, &authblock.Input{Secret: pinSecret}, fsKeyset, nil, block, true)
	require.Error(t, err)
	require.Equal(t, StatusFailedInput, status)
}
