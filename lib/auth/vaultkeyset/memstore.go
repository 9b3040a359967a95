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

package vaultkeyset

import (
	"context"
	"sort"
	"sync"

	"github.com/gravitational/trace"
)

// MemStore is an in-memory Store, used by every test in this module.
type MemStore struct {
	mu    sync.Mutex
	users map[string]map[int]*VaultKeyset
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]map[int]*VaultKeyset)}
}

func (s *MemStore) Save(_ context.Context, obfuscatedUsername string, vk *VaultKeyset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[obfuscatedUsername]
	if !ok {
		u = make(map[int]*VaultKeyset)
		s.users[obfuscatedUsername] = u
	}
	cp := *vk
	u[vk.Index] = &cp
	return nil
}

func (s *MemStore) Load(_ context.Context, obfuscatedUsername string, index int) (*VaultKeyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[obfuscatedUsername]
	if !ok {
		return nil, trace.NotFound("vaultkeyset: no keysets for user")
	}
	vk, ok := u[index]
	if !ok {
		return nil, trace.NotFound("vaultkeyset: index %d not found", index)
	}
	cp := *vk
	return &cp, nil
}

func (s *MemStore) LoadByLabel(_ context.Context, obfuscatedUsername, label string) (*VaultKeyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[obfuscatedUsername]
	for _, vk := range u {
		if vk.Label == label {
			cp := *vk
			return &cp, nil
		}
	}
	return nil, trace.NotFound("vaultkeyset: label %q not found", label)
}

func (s *MemStore) ListIndices(_ context.Context, obfuscatedUsername string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[obfuscatedUsername]
	indices := make([]int, 0, len(u))
	for idx := range u {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *MemStore) Delete(_ context.Context, obfuscatedUsername string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[obfuscatedUsername]
	if !ok {
		return nil
	}
	delete(u, index)
	return nil
}

func (s *MemStore) NextIndex(_ context.Context, obfuscatedUsername string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[obfuscatedUsername]
	next := 0
	for {
		if _, exists := u[next]; !exists {
			return next, nil
		}
		next++
	}
}

var _ Store = (*MemStore)(nil)
