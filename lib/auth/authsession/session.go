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
	"math"
	"time"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/username"
	"github.com/oknotokcomputer/authcore/lib/auth/verifier"
)

// sessionRequest is one actor-processed call: fn runs exclusively on the
// loop goroutine, and its result is delivered back over done (§5's
// "single-threaded, arrival-ordered" requirement, implemented the way
// the teacher serializes per-connection state with a request channel
// rather than a mutex).
type sessionRequest struct {
	fn   func(ctx context.Context) (any, error)
	done chan<- sessionResult
}

type sessionResult struct {
	value any
	err   error
}

// AuthSession is a single authentication handle for one account (§3).
// All mutable state below the reqCh field is owned exclusively by the
// loop goroutine; every public method reaches it only through submit.
type AuthSession struct {
	token              Token
	accountID          string
	obfuscatedUsername string
	ephemeral          bool
	apis               *BackingAPIs

	reqCh chan sessionRequest

	// --- actor-owned state: touched only inside loop() ---
	st                   state
	intents              IntentSet
	authenticatedAt      time.Time
	timeoutAt            time.Time
	timeoutFired         bool
	factors              *authfactor.Map
	verifiers            *verifier.Cache
	stash                *uss.Stash
	mainKey              authcrypto.SecureBytes
	fsKeyset             *fskeyset.FileSystemKeyset
	vkResetSeed          authcrypto.SecureBytes
	currentLabel         string
	persistentUserExists bool
}

// Create opens a new AuthSession for accountID (§4.9's "Create"). The
// returned session starts Unauthenticated; persistentUserExists is
// resolved eagerly so AddAuthFactor can tell a brand-new user from one
// being re-enrolled.
func Create(ctx context.Context, accountID string, ephemeral bool, apis *BackingAPIs) (*AuthSession, error) {
	if accountID == "" {
		return nil, autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: account id must not be empty")
	}
	apis.normalize()

	token, err := NewToken()
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate session token")
	}

	obfUsername := username.Obfuscate(accountID)
	exists, err := apis.userExists(ctx, obfUsername)
	if err != nil {
		return nil, trace.Wrap(err, "failed to resolve persistent user state")
	}

	s := &AuthSession{
		token:                token,
		accountID:            username.Normalize(accountID),
		obfuscatedUsername:   obfUsername,
		ephemeral:            ephemeral,
		apis:                 apis,
		reqCh:                make(chan sessionRequest),
		st:                   stateUnauthenticated,
		intents:              NewIntentSet(),
		factors:              authfactor.NewMap(),
		verifiers:            verifier.NewCache(),
		persistentUserExists: exists,
	}
	if exists {
		if err := s.loadPersistedFactors(ctx); err != nil {
			return nil, trace.Wrap(err, "failed to load persisted auth factors")
		}
	}
	go s.loop()

	apis.Logger.With(slog.String("component", "authsession")).InfoContext(ctx, "auth session created",
		slog.String("token", token.String()), slog.Bool("ephemeral", ephemeral), slog.Bool("user_exists", exists))
	return s, nil
}

// loadPersistedFactors populates s.factors from every backing store for
// an already-existing persistent user, so AddAuthFactor's duplicate-label
// check and AuthenticateAuthFactor's label lookup see the full picture before the actor loop ever processes a request. Safe to call
// directly (not through submit): nothing else can reach s yet.
func (s *AuthSession) loadPersistedFactors(ctx context.Context) error {
	if s.apis.FactorManager != nil {
		labels, err := s.apis.FactorManager.ListAuthFactors(ctx, s.obfuscatedUsername)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, label := range labels {
			factor, err := s.apis.FactorManager.LoadAuthFactor(ctx, s.obfuscatedUsername, label)
			if err != nil {
				return trace.Wrap(err)
			}
			s.factors.Add(factor, authfactor.StorageUSS)
		}
	}
	if s.apis.VKStore != nil {
		indices, err := s.apis.VKStore.ListIndices(ctx, s.obfuscatedUsername)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, index := range indices {
			vk, err := s.apis.VKStore.Load(ctx, s.obfuscatedUsername, index)
			if err != nil {
				return trace.Wrap(err)
			}
			if _, _, already := s.factors.Find(vk.Label); already {
				// A backup VK shadowing a USS-stored factor: USS is the
				// authoritative storage for this label (§4.9.1).
				continue
			}
			factor := &authfactor.Factor{Type: vk.Type, Label: vk.Label, Metadata: vk.Metadata, State: vk.State}
			s.factors.Add(factor, authfactor.StorageVK)
		}
	}
	return nil
}

// Token returns this session's identifying Token.
func (s *AuthSession) Token() Token { return s.token }

// ObfuscatedUsername returns the account's ObfuscatedUsername.
func (s *AuthSession) ObfuscatedUsername() string { return s.obfuscatedUsername }

// loop is the single goroutine that ever touches actor-owned state,
// matching the "process requests strictly in arrival order" rule (§5).
// Nothing else in this package spawns a second goroutine that mutates s.
func (s *AuthSession) loop() {
	for req := range s.reqCh {
		val, err := req.fn(context.Background())
		req.done <- sessionResult{value: val, err: err}
	}
}

// submit posts fn to the actor loop and blocks for its result, or for
// ctx's cancellation, whichever happens first.
func submit[T any](ctx context.Context, s *AuthSession, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan sessionResult, 1)
	wrapped := func(ctx context.Context) (any, error) { return fn(ctx) }
	select {
	case s.reqCh <- sessionRequest{fn: wrapped, done: done}:
	case <-ctx.Done():
		return zero, trace.Wrap(ctx.Err())
	}
	select {
	case res := <-done:
		if res.err != nil {
			return zero, res.err
		}
		if res.value == nil {
			return zero, nil
		}
		return res.value.(T), nil
	case <-ctx.Done():
		return zero, trace.Wrap(ctx.Err())
	}
}

// Close stops the actor goroutine. A session must not be used again
// after Close; nothing else in this package ever closes reqCh.
func (s *AuthSession) Close() error {
	close(s.reqCh)
	return nil
}

// checkTimeout is called at the top of every actor-processed operation
// (§4.9's timeout semantics). Rather than a real background timer —
// which does not combine with clockwork.FakeClock in tests without a
// BlockUntil rendezvous — timeout is evaluated lazily against the
// injected Clock, transitioning Authenticated->TimedOut and firing
// OnTimeout exactly once the first time it is observed.
func (s *AuthSession) checkTimeout(ctx context.Context) {
	if s.st != stateAuthenticated {
		return
	}
	if s.apis.Clock.Now().Before(s.timeoutAt) {
		return
	}
	s.st = stateTimedOut
	s.clearAuthenticatedState()
	if !s.timeoutFired {
		s.timeoutFired = true
		if s.apis.OnTimeout != nil {
			s.apis.OnTimeout(ctx, s.token)
		}
	}
}

// clearAuthenticatedState wipes everything an authenticated session
// holds in memory, on timeout or explicit Close-adjacent teardown.
func (s *AuthSession) clearAuthenticatedState() {
	s.intents = NewIntentSet()
	s.mainKey.Zero()
	s.mainKey = nil
	if s.fsKeyset != nil {
		s.fsKeyset.Zero()
	}
	s.vkResetSeed.Zero()
	s.vkResetSeed = nil
	s.currentLabel = ""
}

// setAuthenticated transitions into Authenticated(intents) and arms the
// inactivity timeout for apis.TimeoutDuration from now (§4.9).
func (s *AuthSession) setAuthenticated(intents IntentSet) {
	s.st = stateAuthenticated
	s.intents = intents
	s.authenticatedAt = s.apis.Clock.Now()
	s.timeoutAt = s.authenticatedAt.Add(s.apis.TimeoutDuration)
	s.timeoutFired = false
}

// Status reports the coarse AuthStatus a caller observes right now.
func (s *AuthSession) Status(ctx context.Context) (Status, error) {
	return submit(ctx, s, func(ctx context.Context) (Status, error) {
		s.checkTimeout(ctx)
		switch s.st {
		case stateAuthenticated:
			return StatusAuthenticated, nil
		case stateTimedOut:
			return StatusTimedOut, nil
		default:
			return StatusFurtherFactorRequired, nil
		}
	})
}

// OnUserCreated provisions the persistent-user-level state that exists
// independent of any factor: a random FileSystemKeyset, and, when USS is
// enabled, a freshly-created empty Stash (§4.9's OnUserCreated). Calling
// it twice for the same user is refused: user creation happens exactly
// once. Per spec.md §3/§4.9's transition diagram, it authorizes the full
// intent set immediately: AddAuthFactor's precondition is always an
// already-Authenticated session, with no special case for the first
// factor.
func (s *AuthSession) OnUserCreated(ctx context.Context) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		if s.persistentUserExists {
			return struct{}{}, autherrors.New(autherrors.KindInvalidArgument, nil, "authsession: user %q already exists", s.obfuscatedUsername)
		}

		fsKeyset, err := fskeyset.New()
		if err != nil {
			return struct{}{}, trace.Wrap(err, "failed to generate filesystem keyset")
		}
		s.fsKeyset = fsKeyset

		if s.apis.USSEnabled {
			stash, mainKey, err := uss.CreateRandom(fsKeyset, s.apis.Clock.Now())
			if err != nil {
				return struct{}{}, trace.Wrap(err, "failed to create user secret stash")
			}
			s.stash = stash
			s.mainKey = mainKey
		}

		s.persistentUserExists = true
		s.setAuthenticated(fullIntentSet())
		return struct{}{}, nil
	})
	return err
}

// ExtendTimeout pushes the inactivity deadline delta further into the
// future, adding delta to the time remaining. Refused once the session
// has already timed out (§4.9, §8).
func (s *AuthSession) ExtendTimeout(ctx context.Context, delta time.Duration) error {
	_, err := submit(ctx, s, func(ctx context.Context) (struct{}, error) {
		s.checkTimeout(ctx)
		if s.st != stateAuthenticated {
			return struct{}{}, autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: cannot extend timeout, session is not authenticated")
		}
		s.timeoutAt = s.timeoutAt.Add(delta)
		return struct{}{}, nil
	})
	return err
}

// GetRemainingTime returns the time left before the session times out.
// Before the session has ever authenticated it returns a sentinel large
// duration; once timed out it returns zero (§6).
func (s *AuthSession) GetRemainingTime(ctx context.Context) (time.Duration, error) {
	return submit(ctx, s, func(ctx context.Context) (time.Duration, error) {
		s.checkTimeout(ctx)
		switch s.st {
		case stateAuthenticated:
			remaining := s.timeoutAt.Sub(s.apis.Clock.Now())
			if remaining < 0 {
				return 0, nil
			}
			return remaining, nil
		case stateTimedOut:
			return 0, nil
		default:
			return time.Duration(math.MaxInt64), nil
		}
	})
}

// GetHibernateSecret returns the authenticated session's hibernate
// secret (§6). Requires IntentDecrypt to have been authorized, since it
// is derived from the filesystem keyset.
func (s *AuthSession) GetHibernateSecret(ctx context.Context) (authcrypto.SecureBytes, error) {
	return submit(ctx, s, func(ctx context.Context) (authcrypto.SecureBytes, error) {
		s.checkTimeout(ctx)
		if err := s.requireIntent(IntentDecrypt); err != nil {
			return nil, err
		}
		if s.fsKeyset == nil {
			return nil, autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: no filesystem keyset available")
		}
		return s.fsKeyset.HibernateSecret(), nil
	})
}

// requireIntent fails unless the session is Authenticated and requested
// is in its authorized intent set. Must only be called from inside the
// actor loop, after checkTimeout.
func (s *AuthSession) requireIntent(requested Intent) error {
	if s.st != stateAuthenticated {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: session is not authenticated")
	}
	if !s.intents.Has(requested) {
		return autherrors.New(autherrors.KindUnauthenticatedAuthSession, nil, "authsession: intent %q not authorized for this session", requested)
	}
	return nil
}
