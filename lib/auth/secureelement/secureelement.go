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

// Package secureelement is the stateless facade the auth core calls into
// the hardware backend through: rate-limited credential insert/check/
// remove (PinWeaver) and sealing/unsealing by device-bound policy. The
// secure element is process-global; a Client implementation is
// responsible for serializing concurrent calls to the real hardware.
//
// This package ships two Clients: Software, a fully in-memory emulator
// used by every test in this module (there is no portable Go PinWeaver
// driver to call into), and PKCS11, which performs real seal/unseal
// operations against a PKCS#11 token (see pkcs11.go) while still
// emulating the PinWeaver attempt-counter tree in memory, since PKCS#11
// has no notion of a leaf/attempt-counter hash tree.
package secureelement

import (
	"context"
	"errors"
	"math"
	"time"
)

// DelayInfinite is the delay_seconds value PinWeaver uses to mean
// "permanently locked" (the C++ core's u32::MAX).
const DelayInfinite uint32 = math.MaxUint32

// Label identifies a PinWeaver leaf.
type Label uint64

// DelaySchedule maps a wrong-attempt count to the delay (in seconds)
// PinWeaver enforces before the next attempt at that count is accepted.
// A DelayInfinite entry means permanent lockout once that many wrong
// attempts have accumulated.
type DelaySchedule map[uint32]uint32

// DefaultPinDelaySchedule is the schedule a PIN AuthBlock inserts:
// attemptsLimit wrong attempts, then permanent lockout.
func DefaultPinDelaySchedule(attemptsLimit uint32) DelaySchedule {
	return DelaySchedule{attemptsLimit: DelayInfinite}
}

// RevocationDelaySchedule is the schedule the revocation wrapper inserts:
// PinWeaver here is a pure revocable secret store with no attempt-based
// lockout at all.
func RevocationDelaySchedule() DelaySchedule {
	return DelaySchedule{math.MaxUint32: 1}
}

// Policies opaquely identifies which device-bound policy (e.g. null-user
// vs. current-user-PCR) a PinWeaver leaf or a seal/unseal call is bound
// to. The core never inspects its contents, only passes it through.
type Policies struct {
	// CurrentUser restricts unseal/check to the current logged-in user's
	// PCR/session context. A zero value means the null-user policy.
	CurrentUser bool
	// Label is an opaque policy identifier the backend interprets (e.g.
	// the obfuscated username for a per-user policy).
	Label string
}

// Client is the secure-element contract spec'd in §4.2.
type Client interface {
	IsReady(ctx context.Context) bool
	IsPinWeaverEnabled(ctx context.Context) bool

	// PWInsert creates a new PinWeaver leaf and returns its label.
	PWInsert(ctx context.Context, policies Policies, leSecret, heSecret, resetSecret []byte, schedule DelaySchedule, expirationDelay *time.Duration) (Label, error)

	// PWCheck advances the attempt counter for label and, on a matching
	// leSecret, returns the heSecret/resetSecret. On a wrong leSecret it
	// returns an error wrapping ErrInvalidLESecret; once the schedule's
	// delay for the current attempt count is DelayInfinite, it returns an
	// error wrapping ErrCredentialLocked instead.
	PWCheck(ctx context.Context, label Label, leSecret []byte) (heSecret, resetSecret []byte, err error)

	// PWRemove deletes a PinWeaver leaf. Both "label not found" and
	// "hash tree lost" are treated as success.
	PWRemove(ctx context.Context, label Label) error

	// PWReset restores the attempt counter for label given its reset
	// secret.
	PWReset(ctx context.Context, label Label, resetSecret []byte) error

	// PWGetDelaySeconds returns the delay currently in effect for label's
	// attempt count (DelayInfinite if permanently locked).
	PWGetDelaySeconds(ctx context.Context, label Label) (uint32, error)

	// Seal wraps key under policies using the device-bound key.
	Seal(ctx context.Context, policies Policies, key []byte) ([]byte, error)
	// Unseal reverses Seal.
	Unseal(ctx context.Context, policies Policies, sealed []byte) ([]byte, error)
}

// sentinel is a trivial comparable error value, matching the teacher's
// pattern of comparing errors with errors.Is against a package-level
// struct value (see api/mfa.ErrAdminActionMFARequired) rather than a
// string.
type sentinel string

func (s sentinel) Error() string { return string(s) }

const (
	// ErrInvalidLabel is returned by PWCheck/PWReset/PWGetDelaySeconds
	// when the label does not exist.
	ErrInvalidLabel = sentinel("secureelement: invalid label")
	// ErrHashTreeLost is returned when the backend's attempt-counter
	// hash tree itself is gone (e.g. corrupted storage).
	ErrHashTreeLost = sentinel("secureelement: hash tree lost")
	// ErrInvalidLESecret is returned by PWCheck on a wrong low-entropy
	// secret, short of permanent lockout.
	ErrInvalidLESecret = sentinel("secureelement: invalid low-entropy secret")
	// ErrCredentialLocked is returned by PWCheck once the delay schedule
	// has reached DelayInfinite for the current attempt count.
	ErrCredentialLocked = sentinel("secureelement: credential permanently locked")
)

// IsIdempotentRemoval reports whether err is one of the two conditions
// PWRemove callers must treat as success per §8's idempotent-removal
// invariant.
func IsIdempotentRemoval(err error) bool {
	return err == nil || errors.Is(err, ErrInvalidLabel) || errors.Is(err, ErrHashTreeLost)
}
