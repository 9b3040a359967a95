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

package authsession

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/migration"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

const testAccount = "alice"

// testRig bundles every collaborator one test needs, wired the way a
// real caller's BackingAPIs would be, over a fake clock and a software
// secure element.
type testRig struct {
	apis    *BackingAPIs
	clock   *clockwork.FakeClock
	element *secureelement.Software
}

func newTestRig(t *testing.T, ussEnabled, backupVK, migrationEnabled bool) *testRig {
	t.Helper()
	clock := clockwork.NewFakeClock()
	element, err := secureelement.NewSoftware(clock)
	require.NoError(t, err)

	factorStore := authfactor.NewMemStore()
	factorManager := authfactor.NewManager(factorStore, nil)
	ussStore := uss.NewMemStore()
	vkStore := vaultkeyset.NewMemStore()
	migrator := migration.NewMigrator(factorManager, ussStore, vkStore, clock, nil)

	blocks := map[authfactor.Type]authblock.Block{
		authfactor.TypePassword: authblock.NewPasswordScrypt(),
		authfactor.TypePin:      authblock.NewPinWeaver(element, defaults.PinAttemptsLimit),
	}

	apis := &BackingAPIs{
		FactorManager:    factorManager,
		USSStore:         ussStore,
		VKStore:          vkStore,
		Migrator:         migrator,
		Blocks:           blocks,
		USSEnabled:       ussEnabled,
		BackupVKEnabled:  backupVK,
		MigrationEnabled: migrationEnabled,
		Clock:            clock,
		TimeoutDuration:  defaults.AuthSessionTimeout,
	}
	return &testRig{apis: apis, clock: clock, element: element}
}

func createSession(t *testing.T, rig *testRig, ephemeral bool) *AuthSession {
	t.Helper()
	s, err := Create(context.Background(), testAccount, ephemeral, rig.apis)
	require.NoError(t, err)
	return s
}

// 1. A new persistent user enrolls a password as their first factor.
func TestNewPersistentUserWithPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, false, false)
	s := createSession(t, rig, false)
	defer s.Close()

	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "password", authfactor.TypePassword, authfactor.PasswordMetadata{}, authcrypto.SecureBytes("hunter2")))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, status)

	secret, err := s.GetHibernateSecret(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, secret)
}

// 2. Add a PIN after a password, then authenticate a fresh session with
// the PIN alone.
func TestAddPinThenAuthenticateOnNewSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, false, false)

	s := createSession(t, rig, false)
	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "password", authfactor.TypePassword, authfactor.PasswordMetadata{}, authcrypto.SecureBytes("hunter2")))
	require.NoError(t, s.AddAuthFactor(ctx, "pin", authfactor.TypePin, authfactor.PinMetadata{}, authcrypto.SecureBytes("1234")))
	require.NoError(t, s.Close())

	s2 := createSession(t, rig, false)
	defer s2.Close()
	err := s2.AuthenticateAuthFactor(ctx, AuthenticateParams{
		Labels: []string{"pin"},
		Type:   authfactor.TypePin,
		Intent: IntentDecrypt,
		Secret: authcrypto.SecureBytes("1234"),
	})
	require.NoError(t, err)

	status, err := s2.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, status)
}

// 3. PIN lockout: five wrong attempts lock the leaf, and a sixth,
// correct attempt still fails.
func TestPinLockoutAfterFiveWrongAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, false, false)

	s := createSession(t, rig, false)
	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "pin", authfactor.TypePin, authfactor.PinMetadata{}, authcrypto.SecureBytes("1234")))
	require.NoError(t, s.Close())

	for i := 0; i < int(defaults.PinAttemptsLimit); i++ {
		s2 := createSession(t, rig, false)
		err := s2.AuthenticateAuthFactor(ctx, AuthenticateParams{
			Labels: []string{"pin"},
			Type:   authfactor.TypePin,
			Intent: IntentDecrypt,
			Secret: authcrypto.SecureBytes("wrong"),
		})
		require.Error(t, err)
		require.NoError(t, s2.Close())
	}

	s3 := createSession(t, rig, false)
	defer s3.Close()
	err := s3.AuthenticateAuthFactor(ctx, AuthenticateParams{
		Labels: []string{"pin"},
		Type:   authfactor.TypePin,
		Intent: IntentDecrypt,
		Secret: authcrypto.SecureBytes("1234"),
	})
	require.Error(t, err)
	require.True(t, autherrors.Is(err, autherrors.KindCredentialLocked))
}

// 4. Remove constraints: the currently-authenticated factor and the last
// remaining factor cannot be removed; after switching to another factor,
// the previous one can be.
func TestRemoveAuthFactorConstraints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, false, false)
	s := createSession(t, rig, false)
	defer s.Close()

	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "password", authfactor.TypePassword, authfactor.PasswordMetadata{}, authcrypto.SecureBytes("hunter2")))

	err := s.RemoveAuthFactor(ctx, "password")
	require.Error(t, err, "cannot remove the last remaining factor")

	require.NoError(t, s.AddAuthFactor(ctx, "pin", authfactor.TypePin, authfactor.PinMetadata{}, authcrypto.SecureBytes("1234")))

	err = s.RemoveAuthFactor(ctx, "password")
	require.Error(t, err, "cannot remove the currently-authenticated factor")

	err = s.AuthenticateAuthFactor(ctx, AuthenticateParams{
		Labels: []string{"pin"},
		Type:   authfactor.TypePin,
		Intent: IntentDecrypt,
		Secret: authcrypto.SecureBytes("1234"),
	})
	require.NoError(t, err)

	require.NoError(t, s.RemoveAuthFactor(ctx, "password"))
}

// 5. VK->USS migration: authenticating a legacy password VK runs the
// migrator, leaving a USS-backed factor behind and marking the VK
// migrated, without blocking the authentication result either way.
func TestAuthenticateLegacyVKTriggersMigration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, true, true)

	legacyRig := newTestRig(t, false, false, false)
	legacyRig.apis.VKStore = rig.apis.VKStore
	s := createSession(t, legacyRig, false)
	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "password", authfactor.TypePassword, authfactor.PasswordMetadata{}, authcrypto.SecureBytes("hunter2")))
	require.NoError(t, s.Close())

	s2 := createSession(t, rig, false)
	defer s2.Close()
	err := s2.AuthenticateAuthFactor(ctx, AuthenticateParams{
		Labels: []string{"password"},
		Type:   authfactor.TypePassword,
		Intent: IntentDecrypt,
		Secret: authcrypto.SecureBytes("hunter2"),
	})
	require.NoError(t, err)

	status, err := s2.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, status)

	factor, err := rig.apis.FactorManager.LoadAuthFactor(ctx, s2.ObfuscatedUsername(), "password")
	require.NoError(t, err)
	require.Equal(t, authfactor.TypePassword, factor.Type)

	vk, err := rig.apis.VKStore.LoadByLabel(ctx, s2.ObfuscatedUsername(), "password")
	require.NoError(t, err)
	require.True(t, vk.Migrated)
	require.True(t, vk.Backup)
}

// 6. Session timeout: five minutes of inactivity transitions an
// Authenticated session to TimedOut and fires on_timeout exactly once.
func TestSessionTimesOutAndFiresOnTimeoutOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rig := newTestRig(t, true, false, false)

	var fired int
	var firedToken Token
	rig.apis.OnTimeout = func(_ context.Context, token Token) {
		fired++
		firedToken = token
	}

	s := createSession(t, rig, false)
	defer s.Close()
	require.NoError(t, s.OnUserCreated(ctx))
	require.NoError(t, s.AddAuthFactor(ctx, "password", authfactor.TypePassword, authfactor.PasswordMetadata{}, authcrypto.SecureBytes("hunter2")))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusAuthenticated, status)

	rig.clock.Advance(defaults.AuthSessionTimeout + time.Second)

	status, err = s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, status)
	require.Equal(t, 1, fired)
	require.Equal(t, s.Token(), firedToken)

	// A second observation must not re-fire on_timeout.
	_, err = s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
}
