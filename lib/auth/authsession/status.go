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

package authsession

// state is the internal state-machine position (§4.9's "State
// machine"): Unauthenticated (initial), Authenticated(intent_set),
// TimedOut (terminal).
type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	stateTimedOut
)

// Status is the coarse-grained AuthStatus a caller observes after a
// session operation (§3's "AuthStatus").
type Status string

const (
	StatusFurtherFactorRequired Status = "further_factor_required"
	StatusTimedOut              Status = "timed_out"
	StatusAuthenticated         Status = "authenticated"
)
