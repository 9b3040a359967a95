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

// Package defaults holds tunables shared across the auth core that would
// otherwise be magic numbers scattered through lib/auth/*.
package defaults

import "time"

const (
	// AuthSessionTimeout is how long an AuthSession stays Authenticated
	// with no activity before it transitions to TimedOut.
	AuthSessionTimeout = 5 * time.Minute

	// PinAttemptsLimit is the number of wrong PIN entries PinWeaver
	// tolerates before permanently locking the credential.
	PinAttemptsLimit = 5

	// SaltSize is the size in bytes of every scrypt/AuthBlock salt;
	// chosen to match the AES block size the blobs are wrapped with.
	SaltSize = 16

	// DerivedKeySize is the size in bytes of each scrypt/HKDF sub-key
	// (aes_skey, kdf_skey, vkk_key, ...).
	DerivedKeySize = 32

	// MainKeySize is the size in bytes of the UserSecretStash main key.
	MainKeySize = 32

	// AESIVSize is the size in bytes of an AES-CBC initialization vector.
	AESIVSize = 16
)
