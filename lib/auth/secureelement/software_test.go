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

package secureelement

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestSoftware(t *testing.T) *Software {
	t.Helper()
	sw, err := NewSoftware(clockwork.NewFakeClock())
	require.NoError(t, err)
	return sw
}

func TestSoftwareInsertAndCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	leSecret := []byte("le-secret")
	heSecret := []byte("he-secret")
	resetSecret := []byte("reset-secret")

	label, err := sw.PWInsert(ctx, Policies{}, leSecret, heSecret, resetSecret, DefaultPinDelaySchedule(5), nil)
	require.NoError(t, err)

	he, reset, err := sw.PWCheck(ctx, label, leSecret)
	require.NoError(t, err)
	require.Equal(t, heSecret, he)
	require.Equal(t, resetSecret, reset)
}

func TestSoftwarePermanentLockoutAfterFiveAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	leSecret := []byte("0000")
	label, err := sw.PWInsert(ctx, Policies{}, leSecret, []byte("he"), []byte("reset"), DefaultPinDelaySchedule(5), nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := sw.PWCheck(ctx, label, []byte("wrong"))
		require.ErrorIs(t, err, ErrInvalidLESecret)
	}
	delay, err := sw.PWGetDelaySeconds(ctx, label)
	require.NoError(t, err)
	require.Zero(t, delay, "must not be locked before the 5th wrong attempt")

	// Fifth wrong attempt crosses the threshold.
	_, _, err = sw.PWCheck(ctx, label, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidLESecret)

	delay, err = sw.PWGetDelaySeconds(ctx, label)
	require.NoError(t, err)
	require.Equal(t, DelayInfinite, delay)

	// Sixth attempt, even with the correct secret, must still fail.
	_, _, err = sw.PWCheck(ctx, label, leSecret)
	require.ErrorIs(t, err, ErrCredentialLocked)
}

func TestSoftwareResetRestoresCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	leSecret := []byte("0000")
	resetSecret := []byte("reset-secret")
	label, err := sw.PWInsert(ctx, Policies{}, leSecret, []byte("he"), resetSecret, DefaultPinDelaySchedule(5), nil)
	require.NoError(t, err)

	_, _, err = sw.PWCheck(ctx, label, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidLESecret)

	require.NoError(t, sw.PWReset(ctx, label, resetSecret))

	delay, err := sw.PWGetDelaySeconds(ctx, label)
	require.NoError(t, err)
	require.Zero(t, delay)

	_, _, err = sw.PWCheck(ctx, label, leSecret)
	require.NoError(t, err)
}

func TestSoftwareRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	label, err := sw.PWInsert(ctx, Policies{}, []byte("a"), []byte("b"), []byte("c"), DefaultPinDelaySchedule(5), nil)
	require.NoError(t, err)

	require.NoError(t, sw.PWRemove(ctx, label))
	// Removing an already-removed (now-invalid) label is still success
	// as far as callers are concerned.
	err = sw.PWRemove(ctx, label)
	require.True(t, IsIdempotentRemoval(err))

	_, _, err = sw.PWCheck(ctx, label, []byte("a"))
	require.True(t, errors.Is(err, ErrInvalidLabel))
}

func TestSoftwareRevocationScheduleNeverLocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	label, err := sw.PWInsert(ctx, Policies{}, []byte("a"), []byte("b"), []byte("c"), RevocationDelaySchedule(), nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, _, err := sw.PWCheck(ctx, label, []byte("wrong"))
		require.ErrorIs(t, err, ErrInvalidLESecret)
	}
	delay, err := sw.PWGetDelaySeconds(ctx, label)
	require.NoError(t, err)
	require.Zero(t, delay, "revocation leaves are not attempt-limited")
}

func TestSoftwareSealUnsealRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw := newTestSoftware(t)

	key := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := sw.Seal(ctx, Policies{CurrentUser: true}, key)
	require.NoError(t, err)
	require.NotEqual(t, key, sealed)

	unsealed, err := sw.Unseal(ctx, Policies{CurrentUser: true}, sealed)
	require.NoError(t, err)
	require.Equal(t, key, unsealed)
}
