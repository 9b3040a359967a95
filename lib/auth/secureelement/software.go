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

package secureelement

import (
	"context"
	"crypto/hmac"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/oknotokcomputer/authcore/lib/auth/authcrypto"
)

type pwLeaf struct {
	leSecret      []byte
	heSecret      []byte
	resetSecret   []byte
	schedule      DelaySchedule
	attempts      uint32
	expiresAt     time.Time
	hasExpiration bool
}

// Software is an in-memory Client, standing in for the hardware backend
// in every test in this module and in any environment with no TPM/GSC
// (e.g. CI, or a developer workstation). It keeps its own PinWeaver leaf
// table and a single random device-bound key for Seal/Unseal.
type Software struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	leaves  map[Label]*pwLeaf
	wrapKey authcrypto.SecureBytes
}

// NewSoftware builds a Software backend. clock drives PinWeaver
// expiration and is typically a clockwork.FakeClock in tests.
func NewSoftware(clock clockwork.Clock) (*Software, error) {
	wrapKey, err := authcrypto.Random(32)
	if err != nil {
		return nil, trace.Wrap(err, "failed to provision software wrapping key")
	}
	return &Software{
		clock:   clock,
		leaves:  make(map[Label]*pwLeaf),
		wrapKey: wrapKey,
	}, nil
}

func (s *Software) IsReady(context.Context) bool            { return true }
func (s *Software) IsPinWeaverEnabled(context.Context) bool { return true }

func (s *Software) PWInsert(_ context.Context, _ Policies, leSecret, heSecret, resetSecret []byte, schedule DelaySchedule, expirationDelay *time.Duration) (Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var label Label
	for {
		id := uuid.New()
		label = Label(binary.BigEndian.Uint64(id[:8]))
		if _, exists := s.leaves[label]; !exists {
			break
		}
	}

	leaf := &pwLeaf{
		leSecret:    append([]byte{}, leSecret...),
		heSecret:    append([]byte{}, heSecret...),
		resetSecret: append([]byte{}, resetSecret...),
		schedule:    schedule,
	}
	if expirationDelay != nil {
		leaf.hasExpiration = true
		leaf.expiresAt = s.clock.Now().Add(*expirationDelay)
	}
	s.leaves[label] = leaf
	return label, nil
}

func (s *Software) PWCheck(_ context.Context, label Label, leSecret []byte) (heSecret, resetSecret []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaf, ok := s.leaves[label]
	if !ok {
		return nil, nil, trace.Wrap(ErrInvalidLabel)
	}
	if leaf.hasExpiration && s.clock.Now().After(leaf.expiresAt) {
		return nil, nil, trace.Wrap(ErrCredentialLocked, "credential expired")
	}
	if delayFor(leaf.attempts, leaf.schedule) == DelayInfinite {
		// Already crossed the lockout threshold on a prior call; the
		// hardware refuses regardless of what secret is presented.
		return nil, nil, trace.Wrap(ErrCredentialLocked)
	}

	if !hmac.Equal(leaf.leSecret, leSecret) {
		leaf.attempts++
		return nil, nil, trace.Wrap(ErrInvalidLESecret)
	}

	leaf.attempts = 0
	return append([]byte{}, leaf.heSecret...), append([]byte{}, leaf.resetSecret...), nil
}

func (s *Software) PWRemove(_ context.Context, label Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaves, label)
	return nil
}

func (s *Software) PWReset(_ context.Context, label Label, resetSecret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaf, ok := s.leaves[label]
	if !ok {
		return trace.Wrap(ErrInvalidLabel)
	}
	if !hmac.Equal(leaf.resetSecret, resetSecret) {
		return trace.Wrap(ErrInvalidLESecret, "reset secret mismatch")
	}
	leaf.attempts = 0
	return nil
}

func (s *Software) PWGetDelaySeconds(_ context.Context, label Label) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaf, ok := s.leaves[label]
	if !ok {
		return 0, trace.Wrap(ErrInvalidLabel)
	}
	return delayFor(leaf.attempts, leaf.schedule), nil
}

func (s *Software) Seal(_ context.Context, _ Policies, key []byte) ([]byte, error) {
	iv, err := authcrypto.Random(16)
	if err != nil {
		return nil, trace.Wrap(err, "failed to generate seal iv")
	}
	ciphertext, err := authcrypto.AESCBCEncrypt(s.wrapKey, iv, key)
	if err != nil {
		return nil, trace.Wrap(err, "seal failed")
	}
	return append(iv, ciphertext...), nil
}

func (s *Software) Unseal(_ context.Context, _ Policies, sealed []byte) ([]byte, error) {
	if len(sealed) < 16 {
		return nil, trace.BadParameter("secureelement: sealed blob too short")
	}
	iv, ciphertext := sealed[:16], sealed[16:]
	plaintext, err := authcrypto.AESCBCDecrypt(s.wrapKey, iv, ciphertext)
	if err != nil {
		return nil, trace.Wrap(err, "unseal failed")
	}
	return plaintext, nil
}

// delayFor returns the delay (in seconds) the schedule enforces at the
// given attempt count: the delay associated with the highest threshold
// not exceeding attempts, or 0 if attempts hasn't reached any threshold.
func delayFor(attempts uint32, schedule DelaySchedule) uint32 {
	var bestThreshold, bestDelay uint32
	found := false
	for threshold, delay := range schedule {
		if attempts >= threshold && (!found || threshold > bestThreshold) {
			bestThreshold, bestDelay, found = threshold, delay, true
		}
	}
	return bestDelay
}

var _ Client = (*Software)(nil)
