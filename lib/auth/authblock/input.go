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

// Package authblock implements the AuthBlock family (§4.3): per-factor-
// type strategies that turn an Input plus secure-element state into
// KeyBlobs and a persistable authfactor.State.
package authblock

import (
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
)

// RecoveryInput is the cryptohome-recovery sub-bundle of Input.
type RecoveryInput struct {
	MediatorPubKey   []byte
	GaiaID           string
	DeviceID         string
	EpochResponse    []byte
	EphemeralPubKey  []byte
	RecoveryResponse []byte
	LedgerInfo       []byte
}

// ChallengeCredentialInput is the smart-card sub-bundle of Input.
type ChallengeCredentialInput struct {
	PublicKeySPKIDER    []byte
	SignatureAlgorithms []string
	KeyDelegateService  string
}

// FingerprintInput is the fingerprint sub-bundle of Input.
type FingerprintInput struct {
	TemplateID string
}

// Input is the per-call bundle every AuthBlock's Create/Derive consumes
// (§4.1's AuthInput). Every field besides Secret is optional; which ones
// are required is variant-specific.
type Input struct {
	// Secret is the user-supplied secret bytes (password or PIN).
	Secret authcrypto.SecureBytes

	Username            string
	ObfuscatedUsername  string
	LockedToSingleUser  bool

	// ResetSeed/ResetSalt/ResetSecret feed PrepareForRemoval-adjacent
	// reset-secret derivation for resettable factor types (§4.9.1).
	ResetSeed   authcrypto.SecureBytes
	ResetSalt   authcrypto.SecureBytes
	ResetSecret authcrypto.SecureBytes

	// RateLimiterLabel, when non-nil, names an existing shared PinWeaver
	// rate-limiter leaf a new Fingerprint template should attach to
	// instead of inserting its own (§4.3's Fingerprint, §4.9.1).
	RateLimiterLabel *secureelement.Label
	// RateLimiterLeSecret is the low-entropy secret guarding the leaf
	// named by RateLimiterLabel. Required whenever RateLimiterLabel is
	// set; this module threads it explicitly rather than re-deriving it,
	// since unlike a password-derived le_secret it has no user-supplied
	// material to re-derive from.
	RateLimiterLeSecret authcrypto.SecureBytes

	Recovery            *RecoveryInput
	ChallengeCredential *ChallengeCredentialInput
	Fingerprint         *FingerprintInput
}
