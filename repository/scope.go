/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"github.com/tomoncle/txrepo/database"
)

// SessionScope decides who owns the session a repository works in. It is
// either Owned or Borrowed.
type SessionScope interface {
	sessionScope()
}

// Owned opens, commits and closes a fresh Session from Factory for every
// call.
type Owned struct {
	Factory *database.SessionFactory
}

// Borrowed runs every call against Session, which the caller opened and
// stays responsible for committing and closing.
type Borrowed struct {
	Session *database.Session
}

func (Owned) sessionScope() {}

func (Borrowed) sessionScope() {}

func checkScope(scope SessionScope) error {
	switch s := scope.(type) {
	case Owned:
		if s.Factory == nil {
			return database.NewConfigurationError("scope", "owned scope requires a session factory")
		}
	case Borrowed:
		if s.Session == nil {
			return database.NewConfigurationError("scope", "borrowed scope requires a session")
		}
	case nil:
		return database.NewConfigurationError("scope", "repository requires a session factory or a session")
	default:
		return database.NewConfigurationError("scope", "unknown session scope")
	}
	return nil
}
