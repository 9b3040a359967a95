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

// Package authcrypto is the uniform facade every AuthBlock derives its
// key material through: scrypt, HMAC-SHA256, SHA-256, HKDF-SHA256,
// AES-CBC, and a secure random source. No AuthBlock touches crypto/*
// or golang.org/x/crypto directly; it calls here instead, so the KDF
// parameters and padding scheme live in exactly one place.
package authcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// Default scrypt work factors for interactive login-time derivation.
// N=16384 keeps a single derivation under ~100ms on typical client
// hardware while remaining expensive enough to blunt offline guessing.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// ScryptDerive runs scrypt once over secret+salt and splits the output
// into len(outLens) sub-keys of the requested sizes, in order. This is
// how every AuthBlock variant obtains more than one sub-key (e.g.
// aes_skey and kdf_skey) from a single scrypt pass instead of running
// scrypt twice.
func ScryptDerive(secret, salt []byte, outLens ...int) ([]SecureBytes, error) {
	total := 0
	for _, l := range outLens {
		total += l
	}
	if total == 0 {
		return nil, trace.BadParameter("authcrypto: ScryptDerive requires at least one non-zero output length")
	}

	derived, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, total)
	if err != nil {
		return nil, trace.Wrap(err, "scrypt derivation failed")
	}
	defer SecureBytes(derived).Zero()

	out := make([]SecureBytes, 0, len(outLens))
	offset := 0
	for _, l := range outLens {
		sub := make(SecureBytes, l)
		copy(sub, derived[offset:offset+l])
		out = append(out, sub)
		offset += l
	}
	return out, nil
}

// HMACSHA256 returns HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) SecureBytes {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HKDFSHA256 derives outLen bytes via HKDF-SHA256(key, salt, info).
func HKDFSHA256(key, salt, info []byte, outLen int) (SecureBytes, error) {
	r := hkdf.New(sha256.New, key, salt, info)
	out := make(SecureBytes, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, trace.Wrap(err, "hkdf derivation failed")
	}
	return out, nil
}

// Random returns n cryptographically random bytes.
func Random(n int) (SecureBytes, error) {
	b := make(SecureBytes, n)
	if _, err := rand.Read(b); err != nil {
		return nil, trace.Wrap(err, "failed to read random bytes")
	}
	return b, nil
}

// RandomSalt returns a defaults.SaltSize random salt.
func RandomSalt() (SecureBytes, error) {
	return Random(defaults.SaltSize)
}

// AESCBCEncrypt PKCS#7-pads plaintext and encrypts it with AES-CBC under
// key/iv. key must be 16, 24, or 32 bytes; iv must be aes.BlockSize.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err, "invalid AES key")
	}
	if len(iv) != aes.BlockSize {
		return nil, trace.BadParameter("authcrypto: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESCBCDecrypt reverses AESCBCEncrypt, validating and stripping the
// PKCS#7 padding.
func AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err, "invalid AES key")
	}
	if len(iv) != aes.BlockSize {
		return nil, trace.BadParameter("authcrypto: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, trace.BadParameter("authcrypto: ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("authcrypto: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, trace.BadParameter("authcrypto: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, trace.BadParameter("authcrypto: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
