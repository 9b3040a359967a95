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
	"errors"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/secureelement"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// FingerprintState is the persisted AuthBlockState for one enrolled
// fingerprint template. RateLimiterLeSecret is duplicated across every
// template sharing RateLimiterLabel, since each template's State is an
// independent AuthFactor record (§4.3, §4.9.1).
type FingerprintState struct {
	TemplateID          string
	RateLimiterLabel    secureelement.Label
	RateLimiterLeSecret authcrypto.SecureBytes
	VKKIV               authcrypto.SecureBytes
	ChapsIV             authcrypto.SecureBytes
}

// Variant implements authfactor.State.
func (FingerprintState) Variant() string { return "fingerprint" }

// BioService is the external biometrics-daemon collaborator (§6).
// MatchTemplate returns the same hardware-derived secret for a given
// template on every successful match, which is what lets Derive
// reproduce Create's vkk_key without any host-side stored secret.
type BioService interface {
	EnrollTemplate(ctx context.Context, obfuscatedUsername string) (templateID string, matchSecret authcrypto.SecureBytes, err error)
	StartAuthenticateSession(ctx context.Context, obfuscatedUsername string) (sessionID string, err error)
	MatchTemplate(ctx context.Context, sessionID string) (templateID string, matchSecret authcrypto.SecureBytes, err error)
	EndSession(ctx context.Context, sessionID string) error
}

// Fingerprint is the fingerprint AuthBlock (§4.3): a shared PinWeaver
// rate-limiter leaf gates attempts across every enrolled template, while
// vkk_key itself comes from the bio service's per-template match secret.
type Fingerprint struct {
	client        secureelement.Client
	bio           BioService
	attemptsLimit uint32
}

// NewFingerprint returns a Fingerprint block.
func NewFingerprint(client secureelement.Client, bio BioService, attemptsLimit uint32) *Fingerprint {
	return &Fingerprint{client: client, bio: bio, attemptsLimit: attemptsLimit}
}

func (b *Fingerprint) IsSupported(ctx context.Context) error {
	if !b.client.IsPinWeaverEnabled(ctx) {
		return autherrors.New(autherrors.KindNotImplemented, nil, "authblock: PinWeaver not enabled for fingerprint rate limiter")
	}
	return nil
}

// Create enrolls a new template. When in.RateLimiterLabel is nil, a new
// shared rate-limiter leaf is inserted and returned via
// KeyBlobs.RateLimiterLabel/ResetSecret for the caller to persist into
// USS; otherwise the existing leaf (and its le_secret/reset_secret,
// threaded through Input) is reused.
func (b *Fingerprint) Create(ctx context.Context, in *Input) (authfactor.State, *KeyBlobs, error) {
	if in.Fingerprint == nil {
		return nil, nil, trace.BadParameter("authblock: fingerprint input required")
	}

	templateID, matchSecret, err := b.bio.EnrollTemplate(ctx, in.ObfuscatedUsername)
	if err != nil {
		return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	defer matchSecret.Zero()

	var rlLabel secureelement.Label
	var rlLeSecret authcrypto.SecureBytes
	var newResetSecret authcrypto.SecureBytes

	if in.RateLimiterLabel != nil {
		if len(in.RateLimiterLeSecret) == 0 || len(in.ResetSecret) == 0 {
			return nil, nil, autherrors.New(autherrors.KindAddCredentialsFailed, nil, "authblock: rate limiter exists without its secret")
		}
		rlLabel = *in.RateLimiterLabel
		rlLeSecret = in.RateLimiterLeSecret
	} else {
		rlLeSecret, err = authcrypto.Random(defaults.DerivedKeySize)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		heSecret, err := authcrypto.Random(defaults.DerivedKeySize)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		newResetSecret, err = authcrypto.Random(defaults.DerivedKeySize)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		schedule := secureelement.DefaultPinDelaySchedule(b.attemptsLimit)
		rlLabel, err = b.client.PWInsert(ctx, secureelement.Policies{Label: in.ObfuscatedUsername}, rlLeSecret, heSecret, newResetSecret, schedule, nil)
		if err != nil {
			return nil, nil, autherrors.Wrap(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
		}
	}

	vkkKey, err := authcrypto.HKDFSHA256(matchSecret, nil, []byte("fingerprint_vkk"), defaults.DerivedKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	vkkIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	chapsIV, err := authcrypto.Random(defaults.AESIVSize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	state := FingerprintState{
		TemplateID:          templateID,
		RateLimiterLabel:    rlLabel,
		RateLimiterLeSecret: rlLeSecret,
		VKKIV:               vkkIV,
		ChapsIV:             chapsIV,
	}
	kb := &KeyBlobs{VKKKey: vkkKey, VKKIV: vkkIV, ChapsIV: chapsIV, RateLimiterLabel: &rlLabel}
	if len(newResetSecret) > 0 {
		kb.ResetSecret = newResetSecret
	}
	return state, kb, nil
}

func (b *Fingerprint) Derive(ctx context.Context, in *Input, rawState authfactor.State) (*KeyBlobs, error) {
	state, ok := rawState.(FingerprintState)
	if !ok {
		return nil, trace.BadParameter("authblock: expected FingerprintState, got %T", rawState)
	}
	if in.Fingerprint == nil {
		return nil, trace.BadParameter("authblock: fingerprint input required")
	}

	sessionID, err := b.bio.StartAuthenticateSession(ctx, in.ObfuscatedUsername)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	defer b.bio.EndSession(ctx, sessionID)

	templateID, matchSecret, err := b.bio.MatchTemplate(ctx, sessionID)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	defer matchSecret.Zero()
	if templateID != state.TemplateID {
		return nil, autherrors.New(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, "authblock: matched template does not belong to this factor")
	}

	if _, _, err := b.client.PWCheck(ctx, state.RateLimiterLabel, state.RateLimiterLeSecret); err != nil {
		if errors.Is(err, secureelement.ErrCredentialLocked) {
			return nil, autherrors.Wrap(autherrors.KindCredentialLocked, []autherrors.Action{autherrors.ActionLELockedOut}, err)
		}
		if delay, derr := b.client.PWGetDelaySeconds(ctx, state.RateLimiterLabel); derr == nil && delay == secureelement.DelayInfinite {
			return nil, autherrors.Wrap(autherrors.KindCredentialLocked, []autherrors.Action{autherrors.ActionLELockedOut}, err)
		}
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}

	vkkKey, err := authcrypto.HKDFSHA256(matchSecret, nil, []byte("fingerprint_vkk"), defaults.DerivedKeySize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &KeyBlobs{VKKKey: vkkKey, VKKIV: state.VKKIV, ChapsIV: state.ChapsIV}, nil
}

// PrepareForRemoval never removes the shared rate-limiter leaf, since
// other enrolled templates may still reference it; it is released only
// when the last fingerprint factor sharing it is removed, which this
// package leaves to the caller (it alone knows the full factor set).
func (b *Fingerprint) PrepareForRemoval(context.Context, authfactor.State) error { return nil }

// PrepareForAuth opens a bio-service authenticate session ahead of
// Derive, e.g. to drive a fingerprint-scan UI before the user has
// selected a factor.
func (b *Fingerprint) PrepareForAuth(ctx context.Context, obfuscatedUsername string) (*PreparedToken, error) {
	sessionID, err := b.bio.StartAuthenticateSession(ctx, obfuscatedUsername)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindAuthorizationKeyFailed, []autherrors.Action{autherrors.ActionAuth}, err)
	}
	return NewPreparedToken(func(ctx context.Context) error {
		return b.bio.EndSession(ctx, sessionID)
	}), nil
}

// ResetCounter restores the shared rate-limiter's attempt counter after a
// successful authentication with any factor of the user (§4.3's
// "pw_reset(rate_limiter_label, reset_secret) after successful auth with
// any factor"). state must be the FingerprintState of one of the
// templates sharing the leaf; its RateLimiterLabel identifies which leaf
// to reset.
func (b *Fingerprint) ResetCounter(ctx context.Context, state authfactor.State, resetSecret authcrypto.SecureBytes) error {
	fpState, ok := state.(FingerprintState)
	if !ok {
		return trace.BadParameter("authblock: expected FingerprintState, got %T", state)
	}
	if err := b.client.PWReset(ctx, fpState.RateLimiterLabel, resetSecret); err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}

var _ Block = (*Fingerprint)(nil)
var _ Preparable = (*Fingerprint)(nil)
var _ CounterResetter = (*Fingerprint)(nil)
