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

// State is the tagged union spec'd as AuthBlockState in §3/§4.3. It is
// declared here, rather than in package authblock, so that authfactor can
// reference it in Factor without authblock needing to import authfactor
// back (authblock already imports authfactor for Type). Every concrete
// AuthBlockState variant lives in package authblock and implements this
// interface structurally.
type State interface {
	// Variant names the AuthBlock family this state belongs to.
	Variant() string
}
