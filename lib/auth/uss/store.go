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

package uss

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// Store is the external collaborator named in §6: one encrypted
// container per user. This package ships only an in-memory Store for
// tests; a real on-disk implementation is out of scope (§1).
type Store interface {
	Save(ctx context.Context, obfuscatedUsername string, container []byte) error
	Load(ctx context.Context, obfuscatedUsername string) ([]byte, error)
	Exists(ctx context.Context, obfuscatedUsername string) (bool, error)
}

// MemStore is an in-memory Store, used by every test in this module.
type MemStore struct {
	mu         sync.Mutex
	containers map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{containers: make(map[string][]byte)}
}

func (s *MemStore) Save(_ context.Context, obfuscatedUsername string, container []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[obfuscatedUsername] = append([]byte{}, container...)
	return nil
}

func (s *MemStore) Load(_ context.Context, obfuscatedUsername string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[obfuscatedUsername]
	if !ok {
		return nil, trace.NotFound("uss: no stash for user")
	}
	return append([]byte{}, c...), nil
}

func (s *MemStore) Exists(_ context.Context, obfuscatedUsername string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.containers[obfuscatedUsername]
	return ok, nil
}

var _ Store = (*MemStore)(nil)
