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
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/verifier"
)

// AddAuthFactor enrolls a new credential under label (§4.9.1's
// precondition: an Authenticated session holding IntentDecrypt.
// OnUserCreated already authorizes the full intent set, so this holds
// for the very first factor too.
func (s *AuthSession) AddAuthFactor(ctx context.Context, label string, factType authfactor.Type, metadata authfactor.Metadata, secret authcrypto.SecureBytes) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.addAuthFactor(ctx, label, factType, metadata, secret)
	})
	return err
}

func (s *AuthSession) addAuthFactor(ctx context.Context, label string, factType authfactor.Type, metadata authfactor.Metadata, secret authcrypto.SecureBytes) error {
	s.checkTimeout(ctx)
	if err := s.canAddFactor(); err != nil {
		return err
	}
	if _, _, exists := s.factors.Find(label); exists {
		return autherrors.New(autherrors.KindAddCredentialsFailed, nil, "authsession: label %q already in use", label)
	}

	block, ok := s.apis.Blocks[factType]
	if !ok {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: no AuthBlock configured for factor type %q", factType)
	}
	if err := block.IsSupported(ctx); err != nil {
		return trace.Wrap(err)
	}

	useUSS := s.apis.USSEnabled
	if !authfactor.SupportsVK(factType) && !useUSS {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: factor type %q requires USS, which is disabled", factType)
	}

	in := &authblock.Input{Secret: secret, Username: s.accountID, ObfuscatedUsername: s.obfuscatedUsername}
	var vkResetSeed authcrypto.SecureBytes
	if authfactor.NeedsResetSecret(factType) {
		seed, salt, err := s.resetParamsFor(factType)
		if err != nil {
			return trace.Wrap(err)
		}
		in.ResetSeed = seed
		in.ResetSalt = salt
		in.ResetSecret = authcrypto.HMACSHA256(salt, seed)
	} else if factType == authfactor.TypePassword && !useUSS {
		// The first VK-only password factor originates the shared reset
		// seed a later PIN VK will need (§4.9.1).
		seed, err := authcrypto.Random(32)
		if err != nil {
			return trace.Wrap(err)
		}
		vkResetSeed = seed
	}

	if authfactor.NeedsRateLimiter(factType) && useUSS {
		if rlLabel, leSecret, ok := s.existingRateLimiter(factType); ok {
			in.RateLimiterLabel = &rlLabel
			in.RateLimiterLeSecret = leSecret
			if resetSecret, ok := s.stash.GetRateLimiterResetSecret(string(factType)); ok {
				in.ResetSecret = resetSecret
			}
		}
	}

	state, blobs, err := block.Create(ctx, in)
	if err != nil {
		return trace.Wrap(err)
	}
	defer blobs.Zero()

	factor := &authfactor.Factor{Type: factType, Label: label, Metadata: metadata, State: state}

	var storageType authfactor.StorageType
	if useUSS {
		storageType = authfactor.StorageUSS
		if err := s.persistFactorToUSS(ctx, factor, blobs); err != nil {
			_ = block.PrepareForRemoval(ctx, state)
			return trace.Wrap(err)
		}
		if s.apis.BackupVKEnabled && authfactor.SupportsVK(factType) {
			if err := s.persistBackupVK(ctx, factor, blobs, vkResetSeed); err != nil {
				s.apis.Logger.WarnContext(ctx, "add auth factor: backup vaultkeyset write failed",
					slog.String("label", label), slog.Any("error", err))
			}
		}
	} else {
		storageType = authfactor.StorageVK
		if err := s.persistFactorToVK(ctx, factor, blobs, vkResetSeed); err != nil {
			_ = block.PrepareForRemoval(ctx, state)
			return trace.Wrap(err)
		}
	}

	if v, err := verifier.New(label, factType, secret); err != nil {
		s.apis.Logger.WarnContext(ctx, "add auth factor: verifier registration failed", slog.String("label", label), slog.Any("error", err))
	} else {
		s.verifiers.Add(v)
	}

	s.factors.Add(factor, storageType)
	if s.currentLabel == "" {
		s.currentLabel = label
	}
	return nil
}

// canAddFactor enforces the precondition every AddAuthFactor call needs:
// persistent user state loaded in memory and an Authenticated session
// holding IntentDecrypt (§4.9.1). OnUserCreated authorizes the full
// intent set immediately, so this holds for the first factor too.
func (s *AuthSession) canAddFactor() error {
	if s.fsKeyset == nil {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no persistent user state loaded")
	}
	return s.requireIntent(IntentDecrypt)
}

// resetParamsFor returns the reset seed/salt pair a PIN AuthBlock.Create
// call needs: the seed carried forward from an already-authenticated VK
// (s.vkResetSeed), or a freshly generated one when none exists.
func (s *AuthSession) resetParamsFor(factType authfactor.Type) (seed, salt authcrypto.SecureBytes, err error) {
	seed = s.vkResetSeed
	if len(seed) == 0 {
		seed, err = authcrypto.Random(32)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
	}
	salt, err = authcrypto.RandomSalt()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return seed, salt, nil
}

// existingRateLimiter locates the shared PinWeaver rate-limiter leaf (and
// its low-entropy secret) from an already-enrolled factor of the same
// type, for a second-and-later Fingerprint template to attach to instead
// of inserting its own leaf (§4.9.1).
func (s *AuthSession) existingRateLimiter(factType authfactor.Type) (secureelement.Label, authcrypto.SecureBytes, bool) {
	if s.stash == nil {
		return 0, nil, false
	}
	rlLabel, ok := s.stash.GetFingerprintRateLimiterID()
	if !ok {
		return 0, nil, false
	}
	var found authcrypto.SecureBytes
	s.factors.Each(func(factor *authfactor.Factor, _ authfactor.StorageType) {
		if found != nil || factor.Type != factType {
			return
		}
		if fp, ok := factor.State.(authblock.FingerprintState); ok {
			found = fp.RateLimiterLeSecret
		}
	})
	if found == nil {
		return 0, nil, false
	}
	return rlLabel, found, true
}

func (s *AuthSession) persistFactorToUSS(ctx context.Context, factor *authfactor.Factor, blobs *authblock.KeyBlobs) error {
	if s.stash == nil {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no user secret stash loaded")
	}
	if err := s.stash.AddWrappedMainKey(s.mainKey, blobs.VKKKey, blobs.VKKIV, factor.Label); err != nil {
		return trace.Wrap(err)
	}
	if len(blobs.ResetSecret) > 0 {
		s.stash.SetResetSecretForLabel(factor.Label, blobs.ResetSecret)
	}
	if blobs.RateLimiterLabel != nil {
		if _, already := s.stash.GetFingerprintRateLimiterID(); !already {
			if err := s.stash.InitializeFingerprintRateLimiterID(*blobs.RateLimiterLabel); err != nil {
				return trace.Wrap(err)
			}
			if len(blobs.ResetSecret) > 0 {
				_ = s.stash.SetRateLimiterResetSecret(string(factor.Type), blobs.ResetSecret)
			}
		}
	}

	// Factor-then-stash persist ordering (§4.9.1): a crash between these
	// two writes leaves an orphaned Factor record a retry can overwrite,
	// never a Stash wrapping with no backing Factor.
	if err := s.apis.FactorManager.SaveAuthFactor(ctx, s.obfuscatedUsername, factor); err != nil {
		s.stash.RemoveWrappedMainKey(factor.Label)
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

func (s *AuthSession) persistBackupVK(ctx context.Context, factor *authfactor.Factor, blobs *authblock.KeyBlobs, resetSeed authcrypto.SecureBytes) error {
	return s.persistFactorToVK(ctx, factor, blobs, resetSeed)
}

func (s *AuthSession) persistFactorToVK(ctx context.Context, factor *authfactor.Factor, blobs *authblock.KeyBlobs, resetSeed authcrypto.SecureBytes) error {
	index, err := s.apis.VKStore.NextIndex(ctx, s.obfuscatedUsername)
	if err != nil {
		return trace.Wrap(err)
	}
	vk, err := vaultkeyset.Encrypt(index, factor.Label, factor.Type, factor.Metadata, factor.State, blobs, s.fsKeyset, resetSeed)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.apis.VKStore.Save(ctx, s.obfuscatedUsername, vk); err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}
