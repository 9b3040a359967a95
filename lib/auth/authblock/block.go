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
	"sync"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
)

// Block is the capability set every AuthBlock variant implements (§4.3).
type Block interface {
	// Create generates per-factor secrets (and, for hardware-backed
	// variants, calls the secure element) and returns the state to
	// persist plus the wrapping material.
	Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error)

	// Derive is Create's inverse: it reproduces the same vkk_key/IVs
	// from a previously-persisted State.
	Derive(ctx context.Context, in *Input, state authfactor.State) (*KeyBlobs, error)

	// PrepareForRemoval releases any hardware state (e.g. a PinWeaver
	// leaf) associated with state. Always attempted even when it fails;
	// see authfactor.Manager.RemoveAuthFactor.
	PrepareForRemoval(ctx context.Context, state authfactor.State) error

	// IsSupported reports whether this variant's prerequisites (secure
	// element readiness, external collaborator availability) are met.
	IsSupported(ctx context.Context) error
}

// FactorSelector is implemented by AuthBlock variants whose Derive call
// needs the caller to first disambiguate which persisted State among
// several candidates actually matches in, rather than trying each in
// turn (the multi-candidate authfactor.ArityMany case). No AuthBlock in
// this package implements it.
type FactorSelector interface {
	SelectFactor(ctx context.Context, in *Input) (*authfactor.Factor, error)
}

// CounterResetter is implemented by AuthBlock variants that can clear a
// hardware lockout counter given a previously-recorded reset secret,
// independent of the factor's own secret (§4.9.2's "reset any PinWeaver
// counters of other factors that have reset_secret known").
type CounterResetter interface {
	ResetCounter(ctx context.Context, state authfactor.State, resetSecret authcrypto.SecureBytes) error
}

// Preparable is implemented by AuthBlock variants that need an
// out-of-band hardware session opened before Derive can be called
// (fingerprint, legacy-fingerprint, smart card — §4.3's
// PrepareAuthFactorForAuth).
type Preparable interface {
	PrepareForAuth(ctx context.Context, obfuscatedUsername string) (*PreparedToken, error)
}

// PreparedToken is the scoped resource PrepareForAuth/PrepareForAdd
// return (§4.3's PreparedAuthFactorToken). Terminate must be called
// exactly once unless the token is Detached; it is idempotent and always
// safe to call after a hardware session failure.
type PreparedToken struct {
	mu         sync.Mutex
	terminated bool
	detached   bool
	terminate  func(ctx context.Context) error
}

// NewPreparedToken wraps terminate as a PreparedToken.
func NewPreparedToken(terminate func(ctx context.Context) error) *PreparedToken {
	return &PreparedToken{terminate: terminate}
}

// Terminate releases the underlying hardware session. Calling it more
// than once, or after Detach, is a no-op.
func (t *PreparedToken) Terminate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated || t.detached {
		return nil
	}
	t.terminated = true
	if t.terminate == nil {
		return nil
	}
	if err := t.terminate(ctx); err != nil {
		return trace.Wrap(err, "prepared token terminate failed")
	}
	return nil
}

// Detach marks the token as owned elsewhere: a subsequent Terminate call
// becomes a no-op. Used when a session hands the token off to another
// component that will terminate it itself.
func (t *PreparedToken) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
}
