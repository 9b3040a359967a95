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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapAddFindRemove(t *testing.T) {
	t.Parallel()
	m := NewMap()
	require.Zero(t, m.Size())

	f := &Factor{Type: TypePassword, Label: "legacy-0", Metadata: PasswordMetadata{}}
	m.Add(f, StorageUSS)
	require.Equal(t, 1, m.Size())

	got, storage, ok := m.Find("legacy-0")
	require.True(t, ok)
	require.Equal(t, f, got)
	require.Equal(t, StorageUSS, storage)

	_, _, ok = m.Find("missing")
	require.False(t, ok)

	m.Remove("legacy-0")
	require.Zero(t, m.Size())
}

func TestMapAddReplacesSameLabel(t *testing.T) {
	t.Parallel()
	m := NewMap()
	m.Add(&Factor{Type: TypePassword, Label: "l1"}, StorageVK)
	m.Add(&Factor{Type: TypePin, Label: "l1"}, StorageUSS)

	require.Equal(t, 1, m.Size())
	got, storage, ok := m.Find("l1")
	require.True(t, ok)
	require.Equal(t, TypePin, got.Type)
	require.Equal(t, StorageUSS, storage)
}

func TestFactorValidateRejectsMismatchedMetadata(t *testing.T) {
	t.Parallel()
	f := &Factor{Type: TypePassword, Label: "l1", Metadata: PinMetadata{}}
	require.Error(t, f.Validate())

	f2 := &Factor{Type: TypePassword, Label: "l1", Metadata: PasswordMetadata{}}
	require.NoError(t, f2.Validate())
}

func TestFactorValidateRejectsEmptyLabel(t *testing.T) {
	t.Parallel()
	f := &Factor{Type: TypePassword}
	require.Error(t, f.Validate())
}

func TestArityOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, ArityZero, ArityOf(TypeLegacyFingerprint))
	require.Equal(t, ArityMany, ArityOf(TypeFingerprint))
	require.Equal(t, ArityOne, ArityOf(TypePassword))
	require.Equal(t, ArityOne, ArityOf(TypePin))
}

func TestSupportsVK(t *testing.T) {
	t.Parallel()
	require.False(t, SupportsVK(TypeCryptohomeRecovery))
	require.False(t, SupportsVK(TypeFingerprint))
	require.True(t, SupportsVK(TypePassword))
	require.True(t, SupportsVK(TypePin))
}
