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

package authcrypto

// SecureBytes is a byte container that is expected to hold secret
// material (passwords, derived keys, he_secret, ...). Callers must call
// Zero once the bytes are no longer needed; copying the underlying slice
// out of the core defeats the point and is forbidden by convention, not
// by the type system.
type SecureBytes []byte

// Zero overwrites the buffer in place. It is safe to call more than once.
func (b SecureBytes) Zero() {
	for i := range b {
		b[i] = 0
	}
}

// Clone returns a copy of b as plain bytes, for handing to APIs that don't
// know about SecureBytes (e.g. crypto/cipher). The caller remains on the
// hook for zeroing the original.
func (b SecureBytes) Clone() []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
