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
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/verifier"
)

// AuthenticateParams is the typed AuthInput bundle §4.9.2 describes,
// shaped as an options struct rather than a long positional parameter
// list since most fields are type-specific and optional.
type AuthenticateParams struct {
	// Labels holds zero labels (arity 0), one label (arity 1), or more
	// than one (arity n, unimplemented) depending on Type's declared
	// label arity (authfactor.ArityOf).
	Labels []string
	Type   authfactor.Type
	Intent Intent
	Secret authcrypto.SecureBytes

	Recovery            *authblock.RecoveryInput
	ChallengeCredential *authblock.ChallengeCredentialInput
	Fingerprint         *authblock.FingerprintInput
}

// AuthenticateAuthFactor authenticates the session against the factor
// named by params (§4.9.2).
func (s *AuthSession) AuthenticateAuthFactor(ctx context.Context, params AuthenticateParams) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.authenticateAuthFactor(ctx, params)
	})
	return err
}

func (s *AuthSession) authenticateAuthFactor(ctx context.Context, params AuthenticateParams) error {
	s.checkTimeout(ctx)

	switch authfactor.ArityOf(params.Type) {
	case authfactor.ArityZero:
		return s.authenticateArityZero(ctx, params)
	case authfactor.ArityMany:
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: multi-candidate factor selection is unimplemented")
	default:
		if len(params.Labels) != 1 {
			return autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: factor type %q requires exactly one label", params.Type)
		}
		return s.authenticateArityOne(ctx, params.Labels[0], params)
	}
}

// authenticateArityZero handles the legacy-fingerprint path: no label,
// verifier-only, no hardware fallback (§4.9.2).
func (s *AuthSession) authenticateArityZero(ctx context.Context, params AuthenticateParams) error {
	v, ok := s.verifiers.GetArityZero(params.Type)
	if !ok || !verifyCapable(params.Intent) {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no verifier available for arity-0 factor type %q", params.Type)
	}
	if err := v.Verify(ctx, params.Secret); err != nil {
		return trace.Wrap(err)
	}
	s.authorizeIntent(params.Intent)
	s.currentLabel = v.Label()
	return nil
}

// authenticateArityOne handles password/PIN/smart-card/kiosk/recovery/
// fingerprint: the verifier fast path, then the full USS/VK derive path
// (§4.9.2).
func (s *AuthSession) authenticateArityOne(ctx context.Context, label string, params AuthenticateParams) error {
	if v, ok := s.verifiers.Get(label); ok && verifyCapable(params.Intent) {
		if err := v.Verify(ctx, params.Secret); err != nil {
			return trace.Wrap(err)
		}
		s.authorizeIntent(params.Intent)
		s.currentLabel = label
		return nil
	}

	factor, storageType, ok := s.factors.Find(label)
	if !ok {
		if !s.persistentUserExists {
			return autherrors.New(autherrors.KindAccountNotFound, nil, "authsession: account %q does not exist", s.accountID)
		}
		return autherrors.New(autherrors.KindKeyNotFound, nil, "authsession: no factor at label %q", label)
	}

	if factor.Type != params.Type {
		if storageType == authfactor.StorageVK && factor.Type == authfactor.TypePassword && params.Type == authfactor.TypeKiosk {
			factor.Type = authfactor.TypeKiosk
			factor.Metadata = authfactor.KioskMetadata{}
		} else {
			return autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: label %q is type %q, not %q", label, factor.Type, params.Type)
		}
	}

	block, ok := s.apis.Blocks[factor.Type]
	if !ok {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authsession: no AuthBlock configured for factor type %q", factor.Type)
	}

	in := &authblock.Input{
		Secret:              params.Secret,
		Username:            s.accountID,
		ObfuscatedUsername:  s.obfuscatedUsername,
		Recovery:            params.Recovery,
		ChallengeCredential: params.ChallengeCredential,
		Fingerprint:         params.Fingerprint,
	}

	if storageType == authfactor.StorageUSS {
		return s.authenticateViaUSS(ctx, label, factor, block, in, params.Secret)
	}
	return s.authenticateViaVK(ctx, label, factor, block, in, params.Secret)
}

func (s *AuthSession) authenticateViaUSS(ctx context.Context, label string, factor *authfactor.Factor, block authblock.Block, in *authblock.Input, secret authcrypto.SecureBytes) error {
	blobs, err := block.Derive(ctx, in, factor.State)
	if err != nil {
		s.persistAuthLockedIfPin(ctx, factor, label, err)
		return trace.Wrap(err)
	}
	defer blobs.Zero()

	container, err := s.apis.USSStore.Load(ctx, s.obfuscatedUsername)
	if err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	stash, mainKey, err := uss.FromEncryptedContainerWithWrappingKey(container, label, blobs.VKKKey)
	if err != nil {
		return trace.Wrap(err)
	}

	s.stash = stash
	s.mainKey = mainKey
	s.fsKeyset = stash.GetFSKeyset()
	s.setAuthenticated(fullIntentSet())
	s.currentLabel = label
	s.resetOtherFactorCounters(ctx, label)

	if v, err := verifier.New(label, factor.Type, secret); err != nil {
		s.apis.Logger.WarnContext(ctx, "authenticate: verifier registration failed", slog.String("label", label), slog.Any("error", err))
	} else {
		s.verifiers.Add(v)
	}
	return nil
}

func (s *AuthSession) authenticateViaVK(ctx context.Context, label string, factor *authfactor.Factor, block authblock.Block, in *authblock.Input, secret authcrypto.SecureBytes) error {
	vk, err := s.apis.VKStore.LoadByLabel(ctx, s.obfuscatedUsername, label)
	if err != nil {
		return autherrors.Wrap(autherrors.KindKeyNotFound, nil, err)
	}

	blobs, err := block.Derive(ctx, in, factor.State)
	if err != nil {
		s.persistAuthLockedOnVK(ctx, factor, vk, err)
		return trace.Wrap(err)
	}
	defer blobs.Zero()

	fsKeyset, resetSeed, err := vk.Decrypt(blobs)
	if err != nil {
		return trace.Wrap(err)
	}

	s.fsKeyset = fsKeyset
	s.vkResetSeed = resetSeed
	s.setAuthenticated(fullIntentSet())
	s.currentLabel = label

	if v, err := verifier.New(label, factor.Type, secret); err != nil {
		s.apis.Logger.WarnContext(ctx, "authenticate: verifier registration failed", slog.String("label", label), slog.Any("error", err))
	} else {
		s.verifiers.Add(v)
	}

	if s.apis.MigrationEnabled && s.apis.Migrator != nil {
		// Run synchronously on the actor goroutine rather than spawning a
		// worker: migration failure must never race a later request for
		// the same user against a half-written USS (§5's ordering rule).
		status, err := s.apis.Migrator.MigrateOne(ctx, s.obfuscatedUsername, vk, in, fsKeyset, resetSeed, block, s.apis.BackupVKEnabled)
		s.apis.Logger.InfoContext(ctx, "authenticate: vk/uss migration attempted",
			slog.String("label", label), slog.String("status", string(status)), slog.Any("error", err))
	}
	return nil
}

// persistAuthLockedIfPin records auth_locked=true on a backup VK for a
// USS-stored PIN factor that just hit permanent PinWeaver lockout, if
// one exists (§4.9.2).
func (s *AuthSession) persistAuthLockedIfPin(ctx context.Context, factor *authfactor.Factor, label string, derivErr error) {
	if factor.Type != authfactor.TypePin || !autherrors.Is(derivErr, autherrors.KindCredentialLocked) {
		return
	}
	vk, err := s.apis.VKStore.LoadByLabel(ctx, s.obfuscatedUsername, label)
	if err != nil {
		return
	}
	s.persistAuthLockedOnVK(ctx, factor, vk, derivErr)
}

func (s *AuthSession) persistAuthLockedOnVK(ctx context.Context, factor *authfactor.Factor, vk *vaultkeyset.VaultKeyset, derivErr error) {
	if factor.Type != authfactor.TypePin || !autherrors.Is(derivErr, autherrors.KindCredentialLocked) {
		return
	}
	vk.SetAuthLocked(true)
	if err := s.apis.VKStore.Save(ctx, s.obfuscatedUsername, vk); err != nil {
		s.apis.Logger.WarnContext(ctx, "authenticate: failed to persist auth_locked on vaultkeyset",
			slog.String("label", vk.Label), slog.Any("error", err))
	}
}

// resetOtherFactorCounters best-effort resets every other factor's
// hardware lockout counter whose reset secret is known to the stash,
// after a successful USS authentication (§4.9.2). Pin carries its reset
// secret per label; Fingerprint's is shared across every template under
// its rate-limiter type, so a shared leaf is only ever reset once per
// call (§4.3's "pw_reset(rate_limiter_label, reset_secret) after
// successful auth with any factor").
func (s *AuthSession) resetOtherFactorCounters(ctx context.Context, excludeLabel string) {
	if s.stash == nil {
		return
	}
	resetRateLimiterTypes := make(map[authfactor.Type]bool)
	s.factors.Each(func(factor *authfactor.Factor, _ authfactor.StorageType) {
		if factor.Label == excludeLabel {
			return
		}

		var resetSecret authcrypto.SecureBytes
		if authfactor.NeedsRateLimiter(factor.Type) {
			if resetRateLimiterTypes[factor.Type] {
				return
			}
			secret, ok := s.stash.GetRateLimiterResetSecret(string(factor.Type))
			if !ok {
				return
			}
			resetSecret = secret
			resetRateLimiterTypes[factor.Type] = true
		} else {
			secret, ok := s.stash.GetResetSecretForLabel(factor.Label)
			if !ok {
				return
			}
			resetSecret = secret
		}

		block, ok := s.apis.Blocks[factor.Type]
		if !ok {
			return
		}
		resetter, ok := block.(authblock.CounterResetter)
		if !ok {
			return
		}
		if err := resetter.ResetCounter(ctx, factor.State, resetSecret); err != nil {
			s.apis.Logger.WarnContext(ctx, "authenticate: best-effort counter reset failed",
				slog.String("label", factor.Label), slog.Any("error", err))
		}
	})
}

// authorizeIntent adds requested to the session's intent set, promoting
// the session to Authenticated first if it was not already (§4.9.2's
// verifier fast path never touches the filesystem keyset, so it only
// ever authorizes verify-capable intents).
func (s *AuthSession) authorizeIntent(requested Intent) {
	if s.st != stateAuthenticated {
		s.setAuthenticated(NewIntentSet(requested))
		return
	}
	s.intents[requested] = struct{}{}
	s.timeoutAt = s.apis.Clock.Now().Add(s.apis.TimeoutDuration)
}
