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

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
)

func newTestSoftwareClient(t *testing.T) *secureelement.Software {
	t.Helper()
	sw, err := secureelement.NewSoftware(clockwork.NewFakeClock())
	require.NoError(t, err)
	return sw
}

func TestTPMBoundToPcrCreateDeriveRoundTrip(t *testing.T) {
	t.Parallel()
	client := newTestSoftwareClient(t)
	b := NewTPM(client, true)
	ctx := context.Background()

	in := &Input{Secret: authcrypto.SecureBytes("hunter2"), ObfuscatedUsername: "user-a"}
	state, created, err := b.Create(ctx, in)
	require.NoError(t, err)

	derived, err := b.Derive(ctx, in, state)
	require.NoError(t, err)
	require.Equal(t, []byte(created.VKKKey), []byte(derived.VKKKey))
}

func TestTPMNotBoundToPcrCreateDeriveRoundTrip(t *testing.T) {
	t.Parallel()
	client := newTestSoftwareClient(t)
	b := NewTPM(client, false)
	ctx := context.Background()

	in := &Input{Secret: authcrypto.SecureBytes("hunter2"), ObfuscatedUsername: "user-a"}
	state, created, err := b.Create(ctx, in)
	require.NoError(t, err)

	derived, err := b.Derive(ctx, in, state)
	require.NoError(t, err)
	require.Equal(t, []byte(created.VKKKey), []byte(derived.VKKKey))
}

func TestTPMVariantNameMatchesBoundToPCR(t *testing.T) {
	t.Parallel()
	require.Equal(t, "tpm_bound_to_pcr", TPMState{BoundToPCR: true}.Variant())
	require.Equal(t, "tpm_not_bound_to_pcr", TPMState{BoundToPCR: false}.Variant())
}
