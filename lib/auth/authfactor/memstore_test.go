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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreSaveLoadIsolatesByUser(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	ctx := context.Background()

	f := &Factor{Type: TypePassword, Label: "legacy-0"}
	require.NoError(t, store.Save(ctx, "user-a", f))

	_, err := store.Load(ctx, "user-b", "legacy-0")
	require.Error(t, err)

	got, err := store.Load(ctx, "user-a", "legacy-0")
	require.NoError(t, err)
	require.Equal(t, f.Type, got.Type)
}

func TestMemStoreSaveCopiesToAvoidAliasing(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	ctx := context.Background()

	f := &Factor{Type: TypePassword, Label: "legacy-0"}
	require.NoError(t, store.Save(ctx, "user-a", f))

	f.Type = TypePin
	got, err := store.Load(ctx, "user-a", "legacy-0")
	require.NoError(t, err)
	require.Equal(t, TypePassword, got.Type)
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "user-a", "legacy-0"))

	f := &Factor{Type: TypePassword, Label: "legacy-0"}
	require.NoError(t, store.Save(ctx, "user-a", f))
	require.NoError(t, store.Delete(ctx, "user-a", "legacy-0"))
	require.NoError(t, store.Delete(ctx, "user-a", "legacy-0"))

	_, err := store.Load(ctx, "user-a", "legacy-0")
	require.Error(t, err)
}

func TestMemStoreListSortsLabels(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	ctx := context.Background()

	for _, label := range []string{"z", "a", "m"} {
		require.NoError(t, store.Save(ctx, "user-a", &Factor{Type: TypePassword, Label: label}))
	}

	labels, err := store.List(ctx, "user-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "m", "z"}, labels)
}
