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

import "context"

// Store is the external collaborator named in §6: indexed files per
// user, enumerable by index, each readable for its label, one of which
// may be marked backup or migrated. This package ships only an
// in-memory Store for tests; a real on-disk implementation is out of
// scope (§1).
type Store interface {
	Save(ctx context.Context, obfuscatedUsername string, vk *VaultKeyset) error
	Load(ctx context.Context, obfuscatedUsername string, index int) (*VaultKeyset, error)
	LoadByLabel(ctx context.Context, obfuscatedUsername, label string) (*VaultKeyset, error)
	ListIndices(ctx context.Context, obfuscatedUsername string) ([]int, error)
	Delete(ctx context.Context, obfuscatedUsername string, index int) error
	// NextIndex returns the lowest unused index for obfuscatedUsername,
	// for allocating a newly-added VK.
	NextIndex(ctx context.Context, obfuscatedUsername string) (int, error)
}
