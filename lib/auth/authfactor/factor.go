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

import "github.com/gravitational/trace"

// Factor is a persisted credential descriptor: {type, label, metadata,
// AuthBlockState} (§3).
type Factor struct {
	Type     Type
	Label    string
	Metadata Metadata
	State    State
}

// Validate checks the internal consistency a Factor must have before it
// is ever persisted or used: the metadata's declared type must match the
// factor's type.
func (f *Factor) Validate() error {
	if f.Label == "" {
		return trace.BadParameter("authfactor: label must not be empty")
	}
	if f.Metadata != nil && f.Metadata.FactorType() != f.Type {
		return trace.BadParameter("authfactor: metadata type %q does not match factor type %q", f.Metadata.FactorType(), f.Type)
	}
	return nil
}

// StorageType tags where a Factor's state is actually persisted: the USS
// wrapping table, or a legacy VaultKeyset file.
type StorageType string

const (
	StorageUSS StorageType = "uss"
	StorageVK  StorageType = "vk"
)
