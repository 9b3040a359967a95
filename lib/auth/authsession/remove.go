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
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
)

// RemoveAuthFactor deletes the credential at label (§4.9.3). Refused for
// the currently-authenticated factor and for the last remaining factor:
// a session must never be left with no way back in.
func (s *AuthSession) RemoveAuthFactor(ctx context.Context, label string) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.removeAuthFactor(ctx, label)
	})
	return err
}

func (s *AuthSession) removeAuthFactor(ctx context.Context, label string) error {
	s.checkTimeout(ctx)
	if err := s.requireIntent(IntentDecrypt); err != nil {
		return trace.Wrap(err)
	}

	factor, storageType, ok := s.factors.Find(label)
	if !ok {
		return autherrors.New(autherrors.KindKeyNotFound, nil, "authsession: no factor at label %q", label)
	}
	if label == s.currentLabel {
		return autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: cannot remove the currently-authenticated factor %q", label)
	}
	if s.factors.Size() <= 1 {
		return autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: cannot remove the last remaining factor")
	}

	block, ok := s.apis.Blocks[factor.Type]
	if !ok {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: no AuthBlock configured for factor type %q", factor.Type)
	}

	if storageType == authfactor.StorageUSS {
		if err := s.removeFactorFromUSS(ctx, factor, block); err != nil {
			return trace.Wrap(err)
		}
	} else {
		if err := s.apis.FactorManager.RemoveAuthFactor(ctx, s.obfuscatedUsername, factor, block); err != nil {
			return trace.Wrap(err)
		}
	}

	// A backup VK may exist alongside a USS-stored factor, or this may be
	// the VK itself; either way any leftover VK for this label is cleared.
	// Recovery-type factors have no guaranteed VK, so a delete failure
	// there is never fatal (§4.9.3).
	if vk, err := s.apis.VKStore.LoadByLabel(ctx, s.obfuscatedUsername, label); err == nil {
		if delErr := s.apis.VKStore.Delete(ctx, s.obfuscatedUsername, vk.Index); delErr != nil {
			logLevel := s.apis.Logger.WarnContext
			if factor.Type == authfactor.TypeCryptohomeRecovery {
				logLevel = s.apis.Logger.InfoContext
			}
			logLevel(ctx, "remove auth factor: vaultkeyset delete failed",
				slog.String("label", label), slog.Any("error", delErr))
		}
	}

	s.verifiers.Remove(label)
	s.factors.Remove(label)
	return nil
}

// removeFactorFromUSS revokes the hardware state, drops the wrapping and
// any reset secret, and re-persists the USS container (§4.9.3's USS
// removal steps 1-4).
func (s *AuthSession) removeFactorFromUSS(ctx context.Context, factor *authfactor.Factor, block interface {
	PrepareForRemoval(ctx context.Context, state authfactor.State) error
}) error {
	if s.stash == nil {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no user secret stash loaded")
	}
	if err := block.PrepareForRemoval(ctx, factor.State); err != nil {
		s.apis.Logger.WarnContext(ctx, "remove auth factor: hardware revoke failed",
			slog.String("label", factor.Label), slog.Any("error", err))
	}

	s.stash.RemoveWrappedMainKey(factor.Label)
	s.stash.RemoveResetSecretForLabel(factor.Label)

	if err := s.apis.FactorManager.RemoveAuthFactor(ctx, s.obfuscatedUsername, factor, nil); err != nil {
		return trace.Wrap(err)
	}
	container, err := s.stash.GetEncryptedContainer(s.mainKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.apis.USSStore.Save(ctx, s.obfuscatedUsername, container); err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}
