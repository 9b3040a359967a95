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

// Package authfactor holds the AuthFactor data model (§3, §4.4): the
// factor Type tag, per-type Metadata, the State interface every
// AuthBlock variant's persisted state implements, the Factor record
// itself, the per-user AuthFactorMap, and the manager that persists
// Factors to a Store.
package authfactor

// Type tags which AuthBlock family a Factor uses.
type Type string

const (
	TypePassword           Type = "password"
	TypePin                Type = "pin"
	TypeCryptohomeRecovery Type = "cryptohome_recovery"
	TypeKiosk              Type = "kiosk"
	TypeSmartCard          Type = "smart_card"
	TypeLegacyFingerprint  Type = "legacy_fingerprint"
	TypeFingerprint        Type = "fingerprint"
)

// Arity is the number of labels AuthenticateAuthFactor expects for a
// given Type, per §4.9.2.
type Arity int

const (
	// ArityZero factors (legacy fingerprint) authenticate against a
	// pre-prepared verifier with no label at all.
	ArityZero Arity = 0
	// ArityOne factors require exactly one label.
	ArityOne Arity = 1
	// ArityMany factors (fingerprint matcher) accept more than one
	// candidate label; selecting among them is unimplemented (§4.9.2).
	ArityMany Arity = -1
)

// ArityOf returns the label arity AuthenticateAuthFactor uses for t.
func ArityOf(t Type) Arity {
	switch t {
	case TypeLegacyFingerprint:
		return ArityZero
	case TypeFingerprint:
		return ArityMany
	default:
		return ArityOne
	}
}

// SupportsVK reports whether t can be stored as a legacy VaultKeyset.
// CryptohomeRecovery and Fingerprint are USS-only (§4.9.1).
func SupportsVK(t Type) bool {
	switch t {
	case TypeCryptohomeRecovery, TypeFingerprint:
		return false
	default:
		return true
	}
}

// NeedsResetSecret reports whether adding t generates a per-label reset
// secret for PinWeaver counter resets (§4.9.1).
func NeedsResetSecret(t Type) bool {
	return t == TypePin
}

// NeedsRateLimiter reports whether t shares a rate-limiter PinWeaver leaf
// across factors of the same type (§4.9.1). Only fingerprint does today.
func NeedsRateLimiter(t Type) bool {
	return t == TypeFingerprint
}
