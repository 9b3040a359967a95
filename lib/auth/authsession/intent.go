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

package authsession

// Intent is one of the three AuthIntents a session can be authorized
// for (§3).
type Intent string

const (
	IntentDecrypt    Intent = "decrypt"
	IntentVerifyOnly Intent = "verify_only"
	IntentWebAuthn   Intent = "webauthn"
)

// IntentSet is the authorized-intent set a session carries while
// Authenticated (§4.9's "Authenticated(intent_set)").
type IntentSet map[Intent]struct{}

// NewIntentSet builds an IntentSet from the given intents.
func NewIntentSet(intents ...Intent) IntentSet {
	s := make(IntentSet, len(intents))
	for _, i := range intents {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether i is in the set.
func (s IntentSet) Has(i Intent) bool {
	_, ok := s[i]
	return ok
}

// fullIntentSet is authorized by a full AuthBlock Derive/USS-unwrap or
// by OnUserCreated (§4.9).
func fullIntentSet() IntentSet {
	return NewIntentSet(IntentDecrypt, IntentVerifyOnly, IntentWebAuthn)
}

// verifyCapable reports whether requested can be satisfied by a
// credential-verifier match alone (§4.9.2): VerifyOnly and WebAuthn
// never need the filesystem keyset; Decrypt does.
func verifyCapable(requested Intent) bool {
	return requested == IntentVerifyOnly || requested == IntentWebAuthn
}
