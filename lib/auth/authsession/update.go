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

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/verifier"
)

// UpdateAuthFactor replaces the credential at label with a new secret,
// keeping the same label/type/storage (§4.9.4).
func (s *AuthSession) UpdateAuthFactor(ctx context.Context, label string, metadata authfactor.Metadata, secret authcrypto.SecureBytes) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.updateAuthFactor(ctx, label, metadata, secret)
	})
	return err
}

func (s *AuthSession) updateAuthFactor(ctx context.Context, label string, metadata authfactor.Metadata, secret authcrypto.SecureBytes) error {
	s.checkTimeout(ctx)
	if err := s.requireIntent(IntentDecrypt); err != nil {
		return trace.Wrap(err)
	}

	existing, storageType, ok := s.factors.Find(label)
	if !ok {
		return autherrors.New(autherrors.KindKeyNotFound, nil, "authsession: no factor at label %q", label)
	}
	factType := existing.Type

	block, ok := s.apis.Blocks[factType]
	if !ok {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: no AuthBlock configured for factor type %q", factType)
	}

	in := &authblock.Input{Secret: secret, Username: s.accountID, ObfuscatedUsername: s.obfuscatedUsername}
	if authfactor.NeedsResetSecret(factType) {
		seed, salt, err := s.resetParamsFor(factType)
		if err != nil {
			return trace.Wrap(err)
		}
		in.ResetSeed = seed
		in.ResetSalt = salt
		in.ResetSecret = authcrypto.HMACSHA256(salt, seed)
	}

	newState, blobs, err := block.Create(ctx, in)
	if err != nil {
		return trace.Wrap(err)
	}
	defer blobs.Zero()

	factor := &authfactor.Factor{Type: factType, Label: label, Metadata: metadata, State: newState}

	switch storageType {
	case authfactor.StorageUSS:
		if err := s.replaceFactorInUSS(ctx, existing, factor, blobs); err != nil {
			_ = block.PrepareForRemoval(ctx, newState)
			return trace.Wrap(err)
		}
	default:
		if err := s.persistFactorToVK(ctx, factor, blobs, nil); err != nil {
			_ = block.PrepareForRemoval(ctx, newState)
			return trace.Wrap(err)
		}
	}

	// The old credential leaked is the usual reason for an update; a
	// backup VK now generated under stale policy is removed rather than
	// left pointing at superseded material (§4.9.4).
	if storageType == authfactor.StorageUSS && !s.apis.BackupVKEnabled {
		if oldVK, err := s.apis.VKStore.LoadByLabel(ctx, s.obfuscatedUsername, label); err == nil {
			if delErr := s.apis.VKStore.Delete(ctx, s.obfuscatedUsername, oldVK.Index); delErr != nil {
				s.apis.Logger.WarnContext(ctx, "update auth factor: stale backup vaultkeyset delete failed",
					slog.String("label", label), slog.Any("error", delErr))
			}
		}
	}

	if err := block.PrepareForRemoval(ctx, existing.State); err != nil {
		s.apis.Logger.WarnContext(ctx, "update auth factor: old hardware state release failed",
			slog.String("label", label), slog.Any("error", err))
	}

	s.verifiers.Remove(label)
	if v, err := verifier.New(label, factType, secret); err != nil {
		s.apis.Logger.WarnContext(ctx, "update auth factor: verifier registration failed", slog.String("label", label), slog.Any("error", err))
	} else {
		s.verifiers.Add(v)
	}
	s.factors.Add(factor, storageType)
	return nil
}

// replaceFactorInUSS removes the old wrapping, adds the new one under
// the same label, and re-persists the factor and USS container
// (§4.9.4).
func (s *AuthSession) replaceFactorInUSS(ctx context.Context, old, factor *authfactor.Factor, blobs *authblock.KeyBlobs) error {
	if s.stash == nil {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no user secret stash loaded")
	}
	s.stash.RemoveWrappedMainKey(factor.Label)
	s.stash.RemoveResetSecretForLabel(factor.Label)

	if err := s.stash.AddWrappedMainKey(s.mainKey, blobs.VKKKey, blobs.VKKIV, factor.Label); err != nil {
		return trace.Wrap(err)
	}
	if len(blobs.ResetSecret) > 0 {
		s.stash.SetResetSecretForLabel(factor.Label, blobs.ResetSecret)
	}

	if err := s.apis.FactorManager.UpdateAuthFactor(ctx, s.obfuscatedUsername, factor); err != nil {
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
