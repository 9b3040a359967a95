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

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
)

// Token is the UnguessableToken (§6): a 128-bit value identifying one
// AuthSession to its caller. Serialized form is high_u64 then low_u64,
// both little-endian; the all-zero serialization is never valid.
type Token struct {
	High uint64
	Low  uint64
}

// NewToken generates a fresh random Token.
func NewToken() (Token, error) {
	for {
		b, err := authcrypto.Random(16)
		if err != nil {
			return Token{}, err
		}
		t := Token{High: binary.LittleEndian.Uint64(b[:8]), Low: binary.LittleEndian.Uint64(b[8:])}
		if !t.IsZero() {
			return t, nil
		}
	}
}

// IsZero reports whether t is the all-zero token.
func (t Token) IsZero() bool { return t.High == 0 && t.Low == 0 }

// Serialize returns t's 16-byte wire form.
func (t Token) Serialize() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[:8], t.High)
	binary.LittleEndian.PutUint64(b[8:], t.Low)
	return b
}

// String returns t's hex encoding, for logging.
func (t Token) String() string { return hex.EncodeToString(t.Serialize()) }

// DeserializeToken reverses Serialize, rejecting anything not exactly 16
// bytes and the all-zero token.
func DeserializeToken(b []byte) (Token, error) {
	if len(b) != 16 {
		return Token{}, autherrors.New(autherrors.KindInvalidAuthSessionToken, nil, "authsession: token must be 16 bytes, got %d", len(b))
	}
	t := Token{High: binary.LittleEndian.Uint64(b[:8]), Low: binary.LittleEndian.Uint64(b[8:])}
	if t.IsZero() {
		return Token{}, autherrors.New(autherrors.KindInvalidAuthSessionToken, nil, "authsession: all-zero token is invalid")
	}
	return t, nil
}
