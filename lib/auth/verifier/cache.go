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

package verifier

import (
	"sync"

	"github.com/oknotokcomputer/authcore/lib/auth/authfactor"
)

// Cache holds every Verifier registered for the lifetime of one
// AuthSession: one per label, plus optionally one label-less verifier
// per Type for arity-0 factors (legacy fingerprint, §4.9.2).
type Cache struct {
	mu           sync.Mutex
	byLabel      map[string]Verifier
	byTypeArity0 map[authfactor.Type]Verifier
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		byLabel:      make(map[string]Verifier),
		byTypeArity0: make(map[authfactor.Type]Verifier),
	}
}

// Add registers v under its label, and additionally under its Type if
// that Type has ArityZero (§4.9.2's "a pre-prepared verifier from the
// user session").
func (c *Cache) Add(v Verifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLabel[v.Label()] = v
	if authfactor.ArityOf(v.Type()) == authfactor.ArityZero {
		c.byTypeArity0[v.Type()] = v
	}
}

// Get returns the verifier registered for label, if any.
func (c *Cache) Get(label string) (Verifier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byLabel[label]
	return v, ok
}

// GetArityZero returns the label-less verifier registered for factType,
// if any.
func (c *Cache) GetArityZero(factType authfactor.Type) (Verifier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byTypeArity0[factType]
	return v, ok
}

// Remove drops the verifier at label, including its arity-0 registration
// if that verifier was also the current arity-0 entry for its Type.
func (c *Cache) Remove(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byLabel[label]
	if !ok {
		return
	}
	delete(c.byLabel, label)
	if current, ok := c.byTypeArity0[v.Type()]; ok && current.Label() == label {
		delete(c.byTypeArity0, v.Type())
	}
}
