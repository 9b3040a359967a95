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

package uss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
)

func TestCreateRandomAddWrapAndUnwrap(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)

	stash, mainKey, err := CreateRandom(fsKeyset, time.Unix(1700000000, 0))
	require.NoError(t, err)

	wrappingKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	iv, err := authcrypto.Random(16)
	require.NoError(t, err)

	require.NoError(t, stash.AddWrappedMainKey(mainKey, wrappingKey, iv, "legacy-0"))

	// Duplicate wrapping id must fail (§4.5).
	require.Error(t, stash.AddWrappedMainKey(mainKey, wrappingKey, iv, "legacy-0"))

	unwrapped, err := stash.unwrapMainKey("legacy-0", wrappingKey)
	require.NoError(t, err)
	require.Equal(t, []byte(mainKey), []byte(unwrapped))

	_, err = stash.unwrapMainKey("no-such-label", wrappingKey)
	require.Error(t, err)
}

func TestWriteOnceFields(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	stash, _, err := CreateRandom(fsKeyset, time.Now())
	require.NoError(t, err)

	require.NoError(t, stash.InitializeFingerprintRateLimiterID(secureelement.Label(7)))
	require.Error(t, stash.InitializeFingerprintRateLimiterID(secureelement.Label(8)))
	label, ok := stash.GetFingerprintRateLimiterID()
	require.True(t, ok)
	require.Equal(t, secureelement.Label(7), label)

	secret, err := authcrypto.Random(32)
	require.NoError(t, err)
	require.NoError(t, stash.SetRateLimiterResetSecret("fingerprint", secret))
	require.Error(t, stash.SetRateLimiterResetSecret("fingerprint", secret))
}

func TestGetEncryptedContainerRoundTrip(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	stash, mainKey, err := CreateRandom(fsKeyset, time.Unix(1700000000, 0))
	require.NoError(t, err)

	wrappingKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	iv, err := authcrypto.Random(16)
	require.NoError(t, err)
	require.NoError(t, stash.AddWrappedMainKey(mainKey, wrappingKey, iv, "legacy-0"))

	resetSecret, err := authcrypto.Random(32)
	require.NoError(t, err)
	stash.SetResetSecretForLabel("legacy-0", resetSecret)

	container, err := stash.GetEncryptedContainer(mainKey)
	require.NoError(t, err)

	restored, restoredMainKey, err := FromEncryptedContainerWithWrappingKey(container, "legacy-0", wrappingKey)
	require.NoError(t, err)
	require.Equal(t, []byte(mainKey), []byte(restoredMainKey))
	require.Equal(t, []byte(fsKeyset.FEK), []byte(restored.GetFSKeyset().FEK))
	require.Equal(t, []byte(fsKeyset.FNEK), []byte(restored.GetFSKeyset().FNEK))

	restoredSecret, ok := restored.GetResetSecretForLabel("legacy-0")
	require.True(t, ok)
	require.Equal(t, []byte(resetSecret), []byte(restoredSecret))
}

func TestFromEncryptedContainerWrongWrappingKeyFails(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	stash, mainKey, err := CreateRandom(fsKeyset, time.Now())
	require.NoError(t, err)

	wrappingKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	iv, err := authcrypto.Random(16)
	require.NoError(t, err)
	require.NoError(t, stash.AddWrappedMainKey(mainKey, wrappingKey, iv, "legacy-0"))

	container, err := stash.GetEncryptedContainer(mainKey)
	require.NoError(t, err)

	wrongKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	_, _, err = FromEncryptedContainerWithWrappingKey(container, "legacy-0", wrongKey)
	require.Error(t, err)

	_, _, err = FromEncryptedContainerWithWrappingKey(container, "no-such-label", wrappingKey)
	require.Error(t, err)
}

func TestRemoveWrappedMainKey(t *testing.T) {
	t.Parallel()

	fsKeyset, err := fskeyset.New()
	require.NoError(t, err)
	stash, mainKey, err := CreateRandom(fsKeyset, time.Now())
	require.NoError(t, err)

	wrappingKey, err := authcrypto.Random(32)
	require.NoError(t, err)
	iv, err := authcrypto.Random(16)
	require.NoError(t, err)
	require.NoError(t, stash.AddWrappedMainKey(mainKey, wrappingKey, iv, "legacy-0"))
	require.Len(t, stash.Labels(), 1)

	stash.RemoveWrappedMainKey("legacy-0")
	require.Len(t, stash.Labels(), 0)
}
