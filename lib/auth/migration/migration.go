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

// Package migration implements the USS<->VK migrator (§4.8): on a
// successful VaultKeyset authentication, produce an equivalent
// USS-backed AuthFactor for the same label while keeping the VK as a
// backup until policy allows its removal.
package migration

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/oknotokcomputer/authcore/lib/auth/authblock"
	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
	"github.com/oknotokcomputer/authcore/lib/auth/fskeyset"
	"github.com/oknotokcomputer/authcore/lib/auth/uss"
	"github.com/oknotokcomputer/authcore/lib/auth/vaultkeyset"
)

// Status is the VkToUssMigrationStatus taxonomy (§4.8): migration
// outcomes are recorded and logged, never surfaced as a user-facing
// authentication failure (§7's propagation policy).
type Status string

const (
	StatusSuccess                 Status = "success"
	StatusFailedInput             Status = "failed_input"
	StatusFailedPersist           Status = "failed_persist"
	StatusFailedRecordingMigrated Status = "failed_recording_migrated"
)

// Migrator runs one-shot per-VK migrations.
type Migrator struct {
	factorManager *authfactor.Manager
	ussStore      uss.Store
	vkStore       vaultkeyset.Store
	clock         clockwork.Clock
	logger        *slog.Logger
}

// NewMigrator builds a Migrator over its storage collaborators.
func NewMigrator(factorManager *authfactor.Manager, ussStore uss.Store, vkStore vaultkeyset.Store, clock clockwork.Clock, logger *slog.Logger) *Migrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		factorManager: factorManager,
		ussStore:      ussStore,
		vkStore:       vkStore,
		clock:         clock,
		logger:        logger.With(slog.String("component", "uss-vk-migrator")),
	}
}

// MigrateOne migrates vk, which the caller has just successfully
// authenticated with authInput (the same Input used for the VK's
// Derive call; Secret is reused, not re-collected). fsKeyset and
// resetSeed are whatever vk.Decrypt just returned. block is the
// AuthBlock variant to run Create with for the new USS-backed factor;
// it is typically the same family the VK already used.
//
// Steps follow §4.8: seed a fresh USS (an existing one is refused, see
// loadOrCreateStash), build a migration
// Input with fresh reset parameters, Create the new AuthBlockState,
// wrap the USS main key under vk.Label, persist the factor then the
// USS container, then mark vk migrated (kept as backup).
func (m *Migrator) MigrateOne(ctx context.Context, obfuscatedUsername string, vk *vaultkeyset.VaultKeyset, authInput *authblock.Input, fsKeyset *fskeyset.FileSystemKeyset, resetSeed authcrypto.SecureBytes, block authblock.Block, keepBackup bool) (Status, error) {
	stash, mainKey, err := m.loadOrCreateStash(ctx, obfuscatedUsername, fsKeyset)
	if err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: could not obtain stash", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedInput, trace.Wrap(err)
	}
	defer mainKey.Zero()

	migInput, err := m.buildMigrationInput(vk.Type, authInput, resetSeed)
	if err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to build migration input", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedInput, trace.Wrap(err)
	}

	newState, blobs, err := block.Create(ctx, migInput)
	if err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: AuthBlock Create failed", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedInput, trace.Wrap(err)
	}
	defer blobs.Zero()

	if err := stash.AddWrappedMainKey(mainKey, blobs.VKKKey, blobs.VKKIV, vk.Label); err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to add wrapping", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedInput, trace.Wrap(err)
	}
	if len(blobs.ResetSecret) > 0 {
		stash.SetResetSecretForLabel(vk.Label, blobs.ResetSecret)
	}

	factor := &authfactor.Factor{Type: vk.Type, Label: vk.Label, Metadata: vk.Metadata, State: newState}
	if err := m.factorManager.SaveAuthFactor(ctx, obfuscatedUsername, factor); err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to persist migrated factor", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedPersist, trace.Wrap(err)
	}

	container, err := stash.GetEncryptedContainer(mainKey)
	if err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to serialize stash", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedPersist, trace.Wrap(err)
	}
	if err := m.ussStore.Save(ctx, obfuscatedUsername, container); err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to persist stash", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedPersist, trace.Wrap(err)
	}

	vk.MarkMigrated()
	if keepBackup {
		vk.MarkBackup()
	}
	if err := m.vkStore.Save(ctx, obfuscatedUsername, vk); err != nil {
		m.logger.WarnContext(ctx, "uss/vk migration: failed to record migrated flag on VK", slog.String("label", vk.Label), slog.Any("error", err))
		return StatusFailedRecordingMigrated, trace.Wrap(err)
	}

	return StatusSuccess, nil
}

// loadOrCreateStash returns the in-memory Stash and main key to migrate
// vk into. If no USS exists yet for the user, one is created fresh,
// seeded with fsKeyset (§4.8 step 2). If one already exists, this VK's
// own freshly-derived secret cannot unwrap it (that secret isn't a
// member of its wrapping table yet) — migrating into an existing USS
// requires a session that already holds the decrypted main key from an
// earlier factor. That is an open question the source leaves
// unresolved (§9(a)); this implementation treats it as a deferred,
// retryable failure rather than guessing at reconciliation (see
// DESIGN.md OQ-1).
func (m *Migrator) loadOrCreateStash(ctx context.Context, obfuscatedUsername string, fsKeyset *fskeyset.FileSystemKeyset) (*uss.Stash, authcrypto.SecureBytes, error) {
	exists, err := m.ussStore.Exists(ctx, obfuscatedUsername)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if exists {
		return nil, nil, autherrors.New(autherrors.KindAddCredentialsFailed, []autherrors.Action{autherrors.ActionRetry},
			"migration: stash already exists for user; migrating label into an existing stash requires an already-decrypted session")
	}
	stash, mainKey, err := uss.CreateRandom(fsKeyset, m.clock.Now())
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return stash, mainKey, nil
}

// buildMigrationInput clones authInput with the reset parameters the
// target factor type needs (§4.8 step 3): a PIN factor gets a fresh
// reset_salt paired with the VK's shared reset_seed; other types pass
// authInput through unchanged.
func (m *Migrator) buildMigrationInput(factType authfactor.Type, authInput *authblock.Input, resetSeed authcrypto.SecureBytes) (*authblock.Input, error) {
	cp := *authInput
	if factType != authfactor.TypePin {
		return &cp, nil
	}
	if len(resetSeed) == 0 {
		return nil, autherrors.New(autherrors.KindInvalidArgument, nil, "migration: PIN VK has no reset seed to migrate from")
	}
	resetSalt, err := authcrypto.RandomSalt()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cp.ResetSeed = resetSeed
	cp.ResetSalt = resetSalt
	cp.ResetSecret = authcrypto.HMACSHA256(resetSalt, resetSeed)
	return &cp, nil
}
