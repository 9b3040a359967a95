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
	"context"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
)

// DoubleWrappedCompatState carries both the TPM-bound state (primary
// path, nil if the TPM was unavailable at Create time) and the
// scrypt-only fallback state computed alongside it.
type DoubleWrappedCompatState struct {
	TPM    *TPMState
	Scrypt PasswordScryptState
}

// Variant implements authfactor.State.
func (DoubleWrappedCompatState) Variant() string { return "double_wrapped_compat" }

// DoubleWrappedCompat is the legacy backwards-compatibility AuthBlock
// (§4.3): Derive tries a TPM-bound derivation first and falls back to
// scrypt-only when the TPM path fails, accommodating state created on
// devices whose TPM availability changed after the fact.
type DoubleWrappedCompat struct {
	tpm    *TPM
	scrypt *PasswordScrypt
}

// NewDoubleWrappedCompat returns a DoubleWrappedCompat block trying tpm
// before falling back to scrypt.
func NewDoubleWrappedCompat(tpm *TPM, scrypt *PasswordScrypt) *DoubleWrappedCompat {
	return &DoubleWrappedCompat{tpm: tpm, scrypt: scrypt}
}

func (b *DoubleWrappedCompat) IsSupported(context.Context) error { return nil }

// Create always computes the scrypt-only fallback so Derive can fall
// back to it later; it prefers the TPM-bound KeyBlobs as the one
// actually used to wrap the USS/VK secret when the TPM is available.
func (b *DoubleWrappedCompat) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	scryptState, scryptBlobs, err := b.scrypt.Create(ctx, in)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	tpmRawState, tpmBlobs, err := b.tpm.Create(ctx, in)
	if err != nil {
		// No TPM available: the factor is scrypt-only from the start.
		return DoubleWrappedCompatState{Scrypt: scryptState.(PasswordScryptState)}, scryptBlobs, nil
	}
	tpmState := tpmRawState.(TPMState)

	state := DoubleWrappedCompatState{TPM: &tpmState, Scrypt: scryptState.(PasswordScryptState)}
	return state, tpmBlobs, nil
}

func (b *DoubleWrappedCompat) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(DoubleWrappedCompatState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected DoubleWrappedCompatState, got %T", rawState)
	}

	if state.TPM != nil {
		if blobs, err := b.tpm.Derive(ctx, in, *state.TPM); err == nil {
			return blobs, nil
		}
	}
	return b.scrypt.Derive(ctx, in, state.Scrypt)
}

func (b *DoubleWrappedCompat) PrepareForRemoval(ctx context.Context, rawState authfactor.State) error {
	state, ok := rawState.(DoubleWrappedCompatState)
	if !ok {
		return trace.BadParameter("authblock: expected DoubleWrappedCompatState, got %T", rawState)
	}
	if state.TPM != nil {
		return trace.Wrap(b.tpm.PrepareForRemoval(ctx, *state.TPM))
	}
	return nil
}

var _ Block = (*DoubleWrappedCompat)(nil)
