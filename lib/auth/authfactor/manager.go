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

package authfactor

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/oknotokcomputer/authcore/lib/auth/autherrors"
)

// Manager persists/loads Factor records to a Store (§4.7). It never
// touches USS or VaultKeyset storage itself; AuthSession is responsible
// for sequencing a Manager.SaveAuthFactor call before it persists the
// updated USS container, per the ordering rule in §5.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager builds a Manager over store. logger is tagged with
// component=authfactor-manager, matching the teacher's per-subsystem
// logger convention.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With(slog.String("component", "authfactor-manager")),
	}
}

// SaveAuthFactor serializes factor to the store.
func (m *Manager) SaveAuthFactor(ctx context.Context, obfuscatedUsername string, factor *Factor) error {
	if err := factor.Validate(); err != nil {
		return trace.Wrap(err)
	}
	if err := m.store.Save(ctx, obfuscatedUsername, factor); err != nil {
		return autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}

// UpdateAuthFactor replaces the persisted factor at factor.Label. The
// Store is expected to implement this as write-new-then-rename so a
// failure leaves the previous factor intact (§4.7); this package just
// calls Save again, relying on the Store's atomic-replace contract.
func (m *Manager) UpdateAuthFactor(ctx context.Context, obfuscatedUsername string, factor *Factor) error {
	if err := factor.Validate(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := m.store.Load(ctx, obfuscatedUsername, factor.Label); err != nil {
		return autherrors.Wrap(autherrors.KindKeyNotFound, nil, err)
	}
	if err := m.store.Save(ctx, obfuscatedUsername, factor); err != nil {
		return autherrors.Wrap(autherrors.KindUpdateCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return nil
}

// LoadAuthFactor reads the persisted factor at label.
func (m *Manager) LoadAuthFactor(ctx context.Context, obfuscatedUsername, label string) (*Factor, error) {
	factor, err := m.store.Load(ctx, obfuscatedUsername, label)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindKeyNotFound, nil, err)
	}
	return factor, nil
}

// ListAuthFactors returns every label persisted for the user.
func (m *Manager) ListAuthFactors(ctx context.Context, obfuscatedUsername string) ([]string, error) {
	labels, err := m.store.List(ctx, obfuscatedUsername)
	if err != nil {
		return nil, autherrors.Wrap(autherrors.KindBackingStoreFailure, []autherrors.Action{autherrors.ActionRetry}, err)
	}
	return labels, nil
}

// RemoveAuthFactor calls block.PrepareForRemoval to release hardware
// state, then deletes the Factor file (§4.7). A PrepareForRemoval failure
// still attempts the delete: the factor must not be left both
// hardware-resident and orphaned from the user's map.
func (m *Manager) RemoveAuthFactor(ctx context.Context, obfuscatedUsername string, factor *Factor, block RemovalPreparer) error {
	var prepErr error
	if block != nil {
		prepErr = block.PrepareForRemoval(ctx, factor.State)
	}

	if err := m.store.Delete(ctx, obfuscatedUsername, factor.Label); err != nil {
		if prepErr != nil {
			m.logger.WarnContext(ctx, "auth factor removal: hardware state release also failed",
				slog.String("label", factor.Label), slog.Any("prepare_error", prepErr))
		}
		return autherrors.Wrap(autherrors.KindRemoveCredentialsFailed, []autherrors.Action{autherrors.ActionRetry}, err)
	}

	if prepErr != nil {
		m.logger.WarnContext(ctx, "auth factor removed but hardware state release failed",
			slog.String("label", factor.Label), slog.Any("error", prepErr))
	}
	return nil
}
