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

package uss

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// containerVersion is bumped whenever the serialized payload shape
// changes (§4.5's "container format is versioned").
const containerVersion byte = 1

// header is the portion of a Stash that must be readable before the
// main key is known: the wrapping table is already protected per-entry
// by each factor's own wrapping key, and a reader needs to see it to
// know which entry to unwrap with their credential-derived key. Storing
// it outside the main-key-encrypted body is what avoids a chicken-and-
// egg problem on read.
type header struct {
	WrappedMainKeyByLabel       map[string]wrappedBlob
	FingerprintRateLimiterLabel *secureelement.Label
}

// body is everything else, only ever readable once the main key has
// been recovered via one of the header's wrappings.
type body struct {
	FSKeyset           *fskeyset.FileSystemKeyset
	CreatedOn          time.Time
	ResetSecretByLabel map[string]authcrypto.SecureBytes
	ResetSecretByType  map[string]authcrypto.SecureBytes
}

func (s *Stash) toHeader() header {
	return header{
		WrappedMainKeyByLabel:       s.wrappedMainKeyByLabel,
		FingerprintRateLimiterLabel: s.fingerprintRateLimiterLabel,
	}
}

func (s *Stash) toBody() body {
	return body{
		FSKeyset:           s.fsKeyset,
		CreatedOn:          s.createdOn,
		ResetSecretByLabel: s.resetSecretByLabel,
		ResetSecretByType:  s.resetSecretByType,
	}
}

// GetEncryptedContainer serializes the Stash into a versioned,
// authenticated container keyed by mainKey: version ‖ header_len ‖
// header ‖ iv ‖ aes_cbc_ciphertext(body) ‖ hmac_tag, encrypt-then-MAC
// over independent sub-keys derived from mainKey via HKDF.
func (s *Stash) GetEncryptedContainer(mainKey authcrypto.SecureBytes) ([]byte, error) {
	var headerBuf bytes.Buffer
	if err := gob.NewEncoder(&headerBuf).Encode(s.toHeader()); err != nil {
		return nil, trace.Wrap(err, "failed to serialize USS header")
	}

	var bodyBuf bytes.Buffer
	if err := gob.NewEncoder(&bodyBuf).Encode(s.toBody()); err != nil {
		return nil, trace.Wrap(err, "failed to serialize USS body")
	}

	aesKey, hmacKey, err := containerSubkeys(mainKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer aesKey.Zero()
	defer hmacKey.Zero()

	iv, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ciphertext, err := authcrypto.AESCBCEncrypt(aesKey, iv, bodyBuf.Bytes())
	if err != nil {
		return nil, trace.Wrap(err, "failed to encrypt USS container")
	}

	headerLen := make([]byte, 4)
	binary.BigEndian.PutUint32(headerLen, uint32(headerBuf.Len()))

	authenticated := bytes.Join([][]byte{{containerVersion}, headerLen, headerBuf.Bytes(), iv, ciphertext}, nil)
	tag := authcrypto.HMACSHA256(hmacKey, authenticated)

	out := make([]byte, 0, len(authenticated)+len(tag))
	out = append(out, authenticated...)
	out = append(out, tag...)
	return out, nil
}

// FromEncryptedContainerWithWrappingKey unwraps mainKey via the named
// wrapping (wrappingID/wrappingKey), authenticates and decrypts the
// container, and returns the reconstituted Stash alongside the main key.
func FromEncryptedContainerWithWrappingKey(container []byte, wrappingID string, wrappingKey authcrypto.SecureBytes) (*Stash, authcrypto.SecureBytes, error) {
	hdr, iv, ciphertext, tag, authenticated, err := splitContainer(container)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	blob, ok := hdr.WrappedMainKeyByLabel[wrappingID]
	if !ok {
		return nil, nil, autherrors.New(autherrors.KindKeyNotFound, nil, "uss: no wrapping for id %q", wrappingID)
	}
	mainKey, err := authcrypto.AESCBCDecrypt(wrappingKey, blob.iv, blob.ciphertext)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	aesKey, hmacKey, err := containerSubkeys(mainKey)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	defer aesKey.Zero()
	defer hmacKey.Zero()

	if !hmac.Equal(authcrypto.HMACSHA256(hmacKey, authenticated), tag) {
		return nil, nil, autherrors.New(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, "uss: container authentication failed")
	}

	plaintext, err := authcrypto.AESCBCDecrypt(aesKey, iv, ciphertext)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	var b body
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(&b); err != nil {
		return nil, nil, trace.Wrap(err, "failed to deserialize USS body")
	}

	s := &Stash{
		fsKeyset:                    b.FSKeyset,
		createdOn:                   b.CreatedOn,
		wrappedMainKeyByLabel:       hdr.WrappedMainKeyByLabel,
		resetSecretByLabel:          b.ResetSecretByLabel,
		resetSecretByType:           b.ResetSecretByType,
		fingerprintRateLimiterLabel: hdr.FingerprintRateLimiterLabel,
	}
	return s, authcrypto.SecureBytes(mainKey), nil
}

// splitContainer parses the wire layout, returning the decoded header
// plus the remaining framing needed to authenticate/decrypt the body.
func splitContainer(container []byte) (hdr header, iv, ciphertext, tag, authenticated []byte, err error) {
	const minLen = 1 + 4 + defaults.AESIVSize + 32
	if len(container) < minLen {
		return header{}, nil, nil, nil, nil, trace.BadParameter("uss: container too short")
	}
	version := container[0]
	if version != containerVersion {
		return header{}, nil, nil, nil, nil, trace.BadParameter("uss: unsupported container version %d", version)
	}
	headerLen := binary.BigEndian.Uint32(container[1:5])
	rest := container[5:]
	if uint32(len(rest)) < headerLen+uint32(defaults.AESIVSize)+32 {
		return header{}, nil, nil, nil, nil, trace.BadParameter("uss: container truncated")
	}
	headerBytes := rest[:headerLen]
	rest = rest[headerLen:]
	iv = rest[:defaults.AESIVSize]
	rest = rest[defaults.AESIVSize:]
	ciphertext = rest[:len(rest)-32]
	tag = rest[len(rest)-32:]

	if err := gob.NewDecoder(bytes.NewReader(headerBytes)).Decode(&hdr); err != nil {
		return header{}, nil, nil, nil, nil, trace.Wrap(err, "failed to deserialize USS header")
	}

	authenticated = container[:len(container)-32]
	return hdr, iv, ciphertext, tag, authenticated, nil
}

// containerSubkeys derives the AES and HMAC sub-keys securing the
// container from mainKey via a single HKDF expansion.
func containerSubkeys(mainKey authcrypto.SecureBytes) (aesKey, hmacKey authcrypto.SecureBytes, err error) {
	aesKey, err = authcrypto.HKDFSHA256(mainKey, nil, []byte("uss_container_aes"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	hmacKey, err = authcrypto.HKDFSHA256(mainKey, nil, []byte("uss_container_hmac"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return aesKey, hmacKey, nil
}
