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

// Package autherrors implements the error taxonomy the core surfaces
// across package boundaries: a fixed set of Kinds plus a fixed set of
// remediation Actions, layered on top of github.com/gravitational/trace
// so callers can use either the typed Kind/Action pair or idiomatic
// trace.IsNotFound(err)-style checks.
package autherrors

import (
	"errors"
	"fmt"

	"github.com/gravitational/trace"
)

// Kind is one of the fixed error kinds named by the auth core.
type Kind string

const (
	KindInvalidArgument            Kind = "invalid_argument"
	KindKeyNotFound                Kind = "key_not_found"
	KindAccountNotFound            Kind = "account_not_found"
	KindUnauthenticatedAuthSession Kind = "unauthenticated_auth_session"
	KindInvalidAuthSessionToken    Kind = "invalid_auth_session_token"
	KindAuthorizationKeyFailed     Kind = "authorization_key_failed"
	KindCredentialLocked           Kind = "credential_locked"
	KindAddCredentialsFailed       Kind = "add_credentials_failed"
	KindUpdateCredentialsFailed    Kind = "update_credentials_failed"
	KindRemoveCredentialsFailed    Kind = "remove_credentials_failed"
	KindBackingStoreFailure        Kind = "backing_store_failure"
	KindMountFatal                 Kind = "mount_fatal"
	KindNotImplemented             Kind = "not_implemented"
)

// Action is one of the fixed remediation actions a UI can key off of.
type Action string

const (
	ActionRetry                   Action = "retry"
	ActionReboot                  Action = "reboot"
	ActionDeleteVault             Action = "delete_vault"
	ActionAuth                    Action = "auth"
	ActionLELockedOut             Action = "le_locked_out"
	ActionDevCheckUnexpectedState Action = "dev_check_unexpected_state"
)

// Error carries a Kind and an Action set alongside the underlying cause.
// It is always returned already trace.Wrap-ped, so trace.DebugReport and
// friends keep working on it like any other core error.
type Error struct {
	Kind    Kind
	Actions []Action
	cause   error
}

func (e *Error) Error() string {
	if len(e.Actions) == 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s (actions=%v): %v", e.Kind, e.Actions, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, &Error{Kind: K}) match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a Kind-tagged, Action-tagged error wrapping a trace base error
// selected by Kind, then trace.Wraps the whole thing so a stack trace is
// captured at the point of creation, matching how every teacher package
// constructs errors at the site they're first observed rather than deeper
// in the call stack.
func New(kind Kind, actions []Action, format string, args ...any) error {
	base := baseFor(kind, format, args...)
	return trace.Wrap(&Error{Kind: kind, Actions: actions, cause: base})
}

// Wrap attaches a Kind/Action pair to an existing error (e.g. one returned
// by the secure-element client) without discarding it.
func Wrap(kind Kind, actions []Action, cause error) error {
	if cause == nil {
		return nil
	}
	return trace.Wrap(&Error{Kind: kind, Actions: actions, cause: cause})
}

func baseFor(kind Kind, format string, args ...any) error {
	switch kind {
	case KindInvalidArgument:
		return trace.BadParameter(format, args...)
	case KindKeyNotFound, KindAccountNotFound:
		return trace.NotFound(format, args...)
	case KindUnauthenticatedAuthSession, KindInvalidAuthSessionToken,
		KindAuthorizationKeyFailed, KindCredentialLocked:
		return trace.AccessDenied(format, args...)
	case KindNotImplemented:
		return trace.NotImplemented(format, args...)
	default:
		return trace.Errorf(format, args...)
	}
}

// KindOf returns the Kind attached to err, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

// ActionsOf returns the Action set attached to err, if any.
func ActionsOf(err error) []Action {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	return e.Actions
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
