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

package authfactor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerSaveLoadListRemove(t *testing.T) {
	t.Parallel()
	mgr := NewManager(NewMemStore(), nil)
	ctx := context.Background()

	f := &Factor{Type: TypePassword, Label: "legacy-0", Metadata: PasswordMetadata{}}
	require.NoError(t, mgr.SaveAuthFactor(ctx, "obfuscated", f))

	loaded, err := mgr.LoadAuthFactor(ctx, "obfuscated", "legacy-0")
	require.NoError(t, err)
	require.Equal(t, f.Type, loaded.Type)

	labels, err := mgr.ListAuthFactors(ctx, "obfuscated")
	require.NoError(t, err)
	require.Equal(t, []string{"legacy-0"}, labels)

	require.NoError(t, mgr.RemoveAuthFactor(ctx, "obfuscated", f, nil))

	_, err = mgr.LoadAuthFactor(ctx, "obfuscated", "legacy-0")
	require.Error(t, err)
}

func TestManagerSaveRejectsInvalidFactor(t *testing.T) {
	t.Parallel()
	mgr := NewManager(NewMemStore(), nil)
	err := mgr.SaveAuthFactor(context.Background(), "obfuscated", &Factor{Type: TypePassword})
	require.Error(t, err)
}

func TestManagerUpdateRequiresExistingFactor(t *testing.T) {
	t.Parallel()
	mgr := NewManager(NewMemStore(), nil)
	ctx := context.Background()

	f := &Factor{Type: TypePassword, Label: "legacy-0"}
	err := mgr.UpdateAuthFactor(ctx, "obfuscated", f)
	require.Error(t, err)

	require.NoError(t, mgr.SaveAuthFactor(ctx, "obfuscated", f))
	f.Metadata = PasswordMetadata{}
	require.NoError(t, mgr.UpdateAuthFactor(ctx, "obfuscated", f))
}

type fakeRemovalPreparer struct {
	err error
}

func (p *fakeRemovalPreparer) PrepareForRemoval(_ context.Context, _ State) error {
	return p.err
}

func TestManagerRemoveCallsPrepareForRemovalButStillDeletes(t *testing.T) {
	t.Parallel()
	mgr := NewManager(NewMemStore(), nil)
	ctx := context.Background()

	f := &Factor{Type: TypePin, Label: "pin-0"}
	require.NoError(t, mgr.SaveAuthFactor(ctx, "obfuscated", f))

	prep := &fakeRemovalPreparer{err: errors.New("hardware release failed")}
	require.NoError(t, mgr.RemoveAuthFactor(ctx, "obfuscated", f, prep))

	_, err := mgr.LoadAuthFactor(ctx, "obfuscated", "pin-0")
	require.Error(t, err)
}
