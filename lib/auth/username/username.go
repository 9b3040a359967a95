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

// Package username implements the case-normalized account identifier and
// its one-way, deterministic obfuscated form (§3): the directory name a
// persistent user's on-disk state lives under.
package username

import (
	"encoding/hex"
	"strings"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
)

// obfuscationInfo is the fixed HMAC-SHA256 key separating username
// obfuscation from every other use of SHA-256 in this module.
const obfuscationInfo = "authcore.obfuscated_username.v1"

// Normalize case-folds and trims an account identifier the way every
// AuthSession lookup expects it, so "Alice@Example.com" and
// "alice@example.com" resolve to the same ObfuscatedUsername.
func Normalize(accountID string) string {
	return strings.ToLower(strings.TrimSpace(accountID))
}

// Obfuscate derives the deterministic, one-way ObfuscatedUsername for
// accountID: the on-disk directory name an AuthSession's persistent user
// state is keyed by. It is deterministic and salt-free by design so a
// later session for the same username, started from a fresh process,
// recomputes the same identifier without any prior state to consult.
func Obfuscate(accountID string) string {
	normalized := Normalize(accountID)
	digest := authcrypto.HMACSHA256([]byte(obfuscationInfo), []byte(normalized))
	return hex.EncodeToString(digest)
}
