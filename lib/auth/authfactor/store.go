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

import "context"

// Store is the external collaborator named in §6: one file per (user,
// label), content the serialized Factor, updates done write-to-temp-
// then-rename. This package ships only an in-memory Store for tests; a
// real on-disk implementation is out of scope (§1).
type Store interface {
	Save(ctx context.Context, obfuscatedUsername string, factor *Factor) error
	Load(ctx context.Context, obfuscatedUsername, label string) (*Factor, error)
	List(ctx context.Context, obfuscatedUsername string) ([]string, error)
	Delete(ctx context.Context, obfuscatedUsername, label string) error
}

// RemovalPreparer is the subset of an AuthBlock's capability set the
// manager needs for RemoveAuthFactor (§4.7): release hardware state (e.g.
// a PinWeaver leaf) before the Factor file disappears. Declared here
// rather than imported from package authblock so this package has no
// dependency on it; every AuthBlock variant in package authblock
// satisfies this interface structurally.
type RemovalPreparer interface {
	PrepareForRemoval(ctx context.Context, state State) error
}
