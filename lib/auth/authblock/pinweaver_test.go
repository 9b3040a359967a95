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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
)

func TestPinWeaverCreateDeriveRoundTrip(t *testing.T) {
	t.Parallel()
	client := newTestSoftwareClient(t)
	b := NewPinWeaver(client, 5)
	ctx := context.Background()

	in := &Input{Secret: authcrypto.SecureBytes("1234"), ObfuscatedUsername: "user-a"}
	state, created, err := b.Create(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, created.ResetSecret)

	derived, err := b.Derive(ctx, in, state)
	require.NoError(t, err)
	require.Equal(t, []byte(created.VKKKey), []byte(derived.VKKKey))
}

func TestPinWeaverDeriveLocksAfterFiveWrongAttempts(t *testing.T) {
	t.Parallel()
	client := newTestSoftwareClient(t)
	b := NewPinWeaver(client, 5)
	ctx := context.Background()

	in := &Input{Secret: authcrypto.SecureBytes("1234"), ObfuscatedUsername: "user-a"}
	state, _, err := b.Create(ctx, in)
	require.NoError(t, err)

	wrong := &Input{Secret: authcrypto.SecureBytes("0000"), ObfuscatedUsername: "user-a"}
	for i := 0; i < 4; i++ {
		_, err := b.Derive(ctx, wrong, state)
		require.Error(t, err)
		require.True(t, autherrors.Is(err, autherrors.KindAuthorizationKeyFailed))
	}

	_, err = b.Derive(ctx, wrong, state)
	require.Error(t, err)
	require.True(t, autherrors.Is(err, autherrors.KindCredentialLocked))

	_, err = b.Derive(ctx, in, state)
	require.Error(t, err)
	require.True(t, autherrors.Is(err, autherrors.KindCredentialLocked))
}

func TestPinWeaverPrepareForRemovalIsIdempotent(t *testing.T) {
	t.Parallel()
	client := newTestSoftwareClient(t)
	b := NewPinWeaver(client, 5)
	ctx := context.Background()

	in := &Input{Secret: authcrypto.SecureBytes("1234"), ObfuscatedUsername: "user-a"}
	state, _, err := b.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, b.PrepareForRemoval(ctx, state))
	require.NoError(t, b.PrepareForRemoval(ctx, state))
}
