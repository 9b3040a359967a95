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

import "sort"

// entry pairs a Factor with the storage it actually lives in.
type entry struct {
	factor      *Factor
	storageType StorageType
}

// Map is label -> (Factor, StorageType), enforcing label uniqueness
// within a user regardless of which storage backs the label (§3, §4.4).
type Map struct {
	entries map[string]entry
}

// NewMap returns an empty AuthFactorMap.
func NewMap() *Map {
	return &Map{entries: make(map[string]entry)}
}

// Add inserts factor under its own label, replacing any existing factor
// with that label (the same replace-on-add semantics the teacher's
// resource caches use).
func (m *Map) Add(factor *Factor, storageType StorageType) {
	m.entries[factor.Label] = entry{factor: factor, storageType: storageType}
}

// Find returns the factor at label, its storage type, and whether it was
// found.
func (m *Map) Find(label string) (*Factor, StorageType, bool) {
	e, ok := m.entries[label]
	if !ok {
		return nil, "", false
	}
	return e.factor, e.storageType, true
}

// Remove deletes label from the map. A no-op if label isn't present.
func (m *Map) Remove(label string) {
	delete(m.entries, label)
}

// Size returns the number of factors currently in the map.
func (m *Map) Size() int {
	return len(m.entries)
}

// Labels returns every label currently in the map, sorted for stable
// iteration (tests and callers that enumerate factors shouldn't depend on
// Go's randomized map order).
func (m *Map) Labels() []string {
	labels := make([]string, 0, len(m.entries))
	for label := range m.entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Each calls fn for every (factor, storageType) pair in label order.
func (m *Map) Each(fn func(factor *Factor, storageType StorageType)) {
	for _, label := range m.Labels() {
		e := m.entries[label]
		fn(e.factor, e.storageType)
	}
}
