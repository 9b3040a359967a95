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

// Package authsession implements the AuthSession state machine (§4.9):
// a per-request handle coordinating AuthBlock/AuthFactor/USS/VaultKeyset
// operations behind a small synchronous API, internally serialized the
// way a single-threaded event loop would process arrival-ordered
// requests (§5).
package authsession

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/migration"
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
	"github.com/oknotokcomputer/authcore/lib/defaults"
)

// BackingAPIs bundles every external collaborator an AuthSession needs
// (§9's "No global singletons" / §4.9's "backing_apis" constructor
// argument), matching the teacher's Config-struct idiom
// (keystore.Config{Software: ..., PKCS11: ...}) rather than package-level
// state.
type BackingAPIs struct {
	// FactorManager persists/loads AuthFactor records (C7).
	FactorManager *authfactor.Manager
	// USSStore persists the per-user encrypted USS container (C5).
	USSStore uss.Store
	// VKStore persists legacy VaultKeysets (C6).
	VKStore vaultkeyset.Store
	// Migrator runs VK->USS migration on a successful VK authentication
	// (C8). Nil disables migration regardless of MigrationEnabled.
	Migrator *migration.Migrator

	// Blocks selects the AuthBlock implementation for a given factor
	// type, matching "pick an AuthBlock type for the factor type based
	// on environment capabilities" (§4.9.1).
	Blocks map[authfactor.Type]authblock.Block

	// USSEnabled gates whether newly-created persistent users get a USS
	// (§4.9's OnUserCreated) and whether AddAuthFactor stores new
	// factors in USS rather than only VK.
	USSEnabled bool
	// BackupVKEnabled gates whether a USS-stored factor also gets a
	// shadow VaultKeyset (§4.9.1).
	BackupVKEnabled bool
	// MigrationEnabled gates whether a successful VK authentication
	// triggers the USS migrator (§4.9.2).
	MigrationEnabled bool

	// Clock drives session timeout bookkeeping. Defaults to the real
	// clock; tests inject clockwork.NewFakeClock().
	Clock clockwork.Clock
	// Logger is tagged with component=authsession at construction.
	Logger *slog.Logger
	// TimeoutDuration overrides defaults.AuthSessionTimeout, for tests.
	TimeoutDuration time.Duration

	// OnTimeout, if set, is invoked exactly once with a session's token
	// the first time that session is observed to have timed out (§4.9,
	// §8's "on_timeout callback fires exactly once").
	OnTimeout func(ctx context.Context, token Token)
}

func (a *BackingAPIs) normalize() {
	if a.Clock == nil {
		a.Clock = clockwork.NewRealClock()
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.TimeoutDuration == 0 {
		a.TimeoutDuration = defaults.AuthSessionTimeout
	}
	if a.Blocks == nil {
		a.Blocks = map[authfactor.Type]authblock.Block{}
	}
}

// userExists reports whether obfuscatedUsername already has a
// persistent identity: a USS container, or any VaultKeyset (§4.9's
// "determines persistent user existence").
func (a *BackingAPIs) userExists(ctx context.Context, obfuscatedUsername string) (bool, error) {
	if a.USSStore != nil {
		if ok, err := a.USSStore.Exists(ctx, obfuscatedUsername); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	if a.VKStore != nil {
		indices, err := a.VKStore.ListIndices(ctx, obfuscatedUsername)
		if err != nil {
			return false, err
		}
		if len(indices) > 0 {
			return true, nil
		}
	}
	return false, nil
}
