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

package secureelement

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/miekg/pkcs11"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
)

// PKCS11Config names the PKCS#11 token a PKCS11 backend seals and unseals
// through (the TPM-as-PKCS11-token case on devices whose GSC exposes a
// PKCS#11 slot) plus the AES wrapping key object's label inside it.
type PKCS11Config struct {
	// ModulePath is the PKCS#11 shared-object module to load (e.g.
	// "/usr/lib64/libchaps.so" on a device with a Chaps daemon).
	ModulePath string
	// SlotIndex selects among the slots the module reports.
	SlotIndex int
	// Pin authenticates the session with the token.
	Pin string
	// WrappingKeyLabel is the CKA_LABEL of the AES key object used for
	// Seal/Unseal.
	WrappingKeyLabel string
}

// PKCS11 is a Client that performs Seal/Unseal against a real PKCS#11
// token and emulates PinWeaver leaves in memory, since PKCS#11 has no
// notion of a rate-limited attempt-counter hash tree: that part of the
// secure element is modeled the same way regardless of which backend
// seals keys.
type PKCS11 struct {
	*Software // PinWeaver emulation + the Client methods it doesn't override

	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	wrapKey pkcs11.ObjectHandle
	cfg     PKCS11Config
}

// NewPKCS11 opens a session against cfg.ModulePath, logs in with cfg.Pin,
// and locates the wrapping key object. Callers must call Close when done.
func NewPKCS11(cfg PKCS11Config, clock clockwork.Clock) (*PKCS11, error) {
	sw, err := NewSoftware(clock)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, trace.BadParameter("secureelement: failed to load PKCS#11 module %q", cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, trace.Wrap(err, "PKCS#11 Initialize failed")
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		ctx.Finalize()
		return nil, trace.Wrap(err, "PKCS#11 GetSlotList failed")
	}
	if cfg.SlotIndex >= len(slots) {
		ctx.Finalize()
		return nil, trace.BadParameter("secureelement: PKCS#11 slot index %d out of range (have %d slots)", cfg.SlotIndex, len(slots))
	}

	session, err := ctx.OpenSession(slots[cfg.SlotIndex], pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		ctx.Finalize()
		return nil, trace.Wrap(err, "PKCS#11 OpenSession failed")
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, cfg.Pin); err != nil {
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, trace.Wrap(err, "PKCS#11 Login failed")
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.WrappingKeyLabel),
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, trace.Wrap(err, "PKCS#11 FindObjectsInit failed")
	}
	handles, _, err := ctx.FindObjects(session, 1)
	findErr := ctx.FindObjectsFinal(session)
	if err != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, trace.Wrap(err, "PKCS#11 FindObjects failed")
	}
	if findErr != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, trace.Wrap(findErr, "PKCS#11 FindObjectsFinal failed")
	}
	if len(handles) == 0 {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, trace.NotFound("secureelement: wrapping key %q not found on token", cfg.WrappingKeyLabel)
	}

	return &PKCS11{
		Software: sw,
		ctx:      ctx,
		session:  session,
		wrapKey:  handles[0],
		cfg:      cfg,
	}, nil
}

// Close releases the PKCS#11 session.
func (p *PKCS11) Close() error {
	if err := p.ctx.Logout(p.session); err != nil {
		return trace.Wrap(err, "PKCS#11 Logout failed")
	}
	if err := p.ctx.CloseSession(p.session); err != nil {
		return trace.Wrap(err, "PKCS#11 CloseSession failed")
	}
	p.ctx.Finalize()
	return nil
}

func (p *PKCS11) IsReady(context.Context) bool {
	_, _, err := p.ctx.GetSessionInfo(p.session)
	return err == nil
}

// Seal encrypts key under the token's wrapping key with CKM_AES_CBC_PAD,
// prefixing a fresh random IV generated for every call.
func (p *PKCS11) Seal(_ context.Context, _ Policies, key []byte) ([]byte, error) {
	iv, err := authcrypto.Random(16)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate seal IV")
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_CBC_PAD, []byte(iv))}
	if err := p.ctx.EncryptInit(p.session, mech, p.wrapKey); err != nil {
		return nil, trace.Wrap(err, "PKCS#11 EncryptInit failed")
	}
	ciphertext, err := p.ctx.Encrypt(p.session, key)
	if err != nil {
		return nil, trace.Wrap(err, "PKCS#11 Encrypt failed")
	}
	return append(append([]byte{}, iv...), ciphertext...), nil
}

// Unseal reverses Seal.
func (p *PKCS11) Unseal(_ context.Context, _ Policies, sealed []byte) ([]byte, error) {
	if len(sealed) < 16 {
		return nil, trace.BadParameter("secureelement: sealed blob too short")
	}
	iv, ciphertext := sealed[:16], sealed[16:]
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_CBC_PAD, iv)}
	if err := p.ctx.DecryptInit(p.session, mech, p.wrapKey); err != nil {
		return nil, trace.Wrap(err, "PKCS#11 DecryptInit failed")
	}
	plaintext, err := p.ctx.Decrypt(p.session, ciphertext)
	if err != nil {
		return nil, trace.Wrap(err, "PKCS#11 Decrypt failed")
	}
	return plaintext, nil
}

var _ Client = (*PKCS11)(nil)
