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
	"context"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
)

// PrepareAuthFactor opens the out-of-band hardware session factType's
// AuthBlock needs before Derive can be called (fingerprint match,
// smart-card challenge). The returned token must be terminated exactly
// once, normally via TerminateAuthFactor (§4.3's PrepareAuthFactorForAuth).
func (s *AuthSession) PrepareAuthFactor(ctx context.Context, factType authfactor.Type) (*authblock.PreparedToken, error) {
	return submit(ctx, s, func(ctx context.Context) (*authblock.PreparedToken, error) {
		s.checkTimeout(ctx)
		block, ok := s.apis.Blocks[factType]
		if !ok {
			return nil, autherrors.New(autherrors.KindNotImplemented, nil, "authsession: no AuthBlock configured for factor type %q", factType)
		}
		preparable, ok := block.(authblock.Preparable)
		if !ok {
			return nil, autherrors.New(autherrors.KindNotImplemented, nil, "authsession: factor type %q has no hardware session to prepare", factType)
		}
		token, err := preparable.PrepareForAuth(ctx, s.obfuscatedUsername)
		if err != nil {
			return nil, err
		}
		return token, nil
	})
}

// TerminateAuthFactor releases a token obtained from PrepareAuthFactor.
// Idempotent: terminating an already-terminated or detached token is a
// no-op.
func (s *AuthSession) TerminateAuthFactor(ctx context.Context, token *authblock.PreparedToken) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		if token == nil {
			return struct{}{}, nil
		}
		return struct{}{}, token.Terminate(ctx)
	})
	return err
}

// GetRecoveryRequest returns the off-device mediator request bytes stored
// for the cryptohome-recovery factor at label, assembled at enrollment
// time by CryptohomeRecovery.Create (§4.9's get_recovery_request). It is
// a thin read: no hardware round-trip, no intent requirement beyond the
// factor existing.
func (s *AuthSession) GetRecoveryRequest(ctx context.Context, label string) ([]byte, error) {
	return submit(ctx, s, func(ctx context.Context) ([]byte, error) {
		s.checkTimeout(ctx)
		factor, _, ok := s.factors.Find(label)
		if !ok {
			return nil, autherrors.New(autherrors.KindKeyNotFound, nil, "authsession: no factor at label %q", label)
		}
		state, ok := factor.State.(authblock.CryptohomeRecoveryState)
		if !ok {
			return nil, autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: label %q is not a cryptohome-recovery factor", label)
		}
		return state.HSMPayload, nil
	})
}
