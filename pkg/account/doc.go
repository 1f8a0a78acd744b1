// Package account provides user account and credential management for the
// Cactuar identity provider.
//
// # Overview
//
// Two credential subjects share one set of hashing and validation rules: the
// Account's own optional password, and the delegated Identity record used for
// password logins that are decoupled from assertion identities. Both store a
// salt generated once at creation time and an MD5 digest over
// "salt--password", kept byte-compatible with rows written by the legacy
// implementation.
//
// # Lifecycle
//
// Accounts are created three ways: self-signup (activated immediately, with
// an Identity credential), admin invitation (unactivated, no password, with a
// unique activation code mailed to the invitee), or auto-provisioning on a
// first delegated login. Activation consumes the code, sets a password and
// activates the account. Destroying an account removes its trust approvals
// and external bindings in the same transaction.
//
// # Related Packages
//
//   - pkg/trust: per-relying-party approvals owned by accounts
//   - pkg/delegated: (provider, external id) bindings resolved to accounts
package account
