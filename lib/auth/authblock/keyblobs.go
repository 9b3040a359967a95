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

package authblock

import (
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
)

// KeyBlobs is the transient output of Create/Derive (§4.1): the wrapping
// material for the user's USS main key or VaultKeyset, plus any
// rate-limiter bookkeeping that must be persisted back into USS. Never
// itself persisted.
type KeyBlobs struct {
	VKKKey  authcrypto.SecureBytes
	VKKIV   authcrypto.SecureBytes
	ChapsIV authcrypto.SecureBytes

	// ResetSecret is set when this Create call generated a fresh
	// per-label or per-rate-limiter reset secret that the caller must
	// persist (into USS's reset_secret_by_label or
	// reset_secret_by_factor_type).
	ResetSecret authcrypto.SecureBytes

	// RateLimiterLabel names the shared PinWeaver rate-limiter leaf this
	// Create call used, whether it inserted that leaf or reused an
	// existing one; the caller records it (into USS's
	// fingerprint_rate_limiter_label) when none is recorded yet.
	RateLimiterLabel *secureelement.Label
}

// Zero wipes every secret field.
func (k *KeyBlobs) Zero() {
	if k == nil {
		return
	}
	k.VKKKey.Zero()
	k.VKKIV.Zero()
	k.ChapsIV.Zero()
	k.ResetSecret.Zero()
}
