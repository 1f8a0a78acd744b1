// Package storage provides database connection management and schema
// migrations for the Cactuar identity provider.
//
// # Overview
//
// The provider runs against SQLite (the historical default) or PostgreSQL,
// selected by configuration. All uniqueness rules the rest of the system
// relies on (usernames, provider/uid bindings, user/trust-root approvals)
// are enforced as storage-level constraints rather than check-then-insert
// logic, so concurrent signups and consent double-submits cannot create
// duplicates.
package storage
