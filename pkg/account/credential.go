package account

import (
	"crypto/md5"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credential is a salted password digest. The salt is generated once at
// creation time and never regenerated; the digest is MD5 over
// "salt--password", byte-compatible with rows written by the legacy
// implementation. New deployments should plan a migration to a memory-hard
// KDF before storing fresh credentials.
type Credential struct {
	Salt    string
	Crypted string
}

// CredentialMode selects which validation rules apply to a password change
type CredentialMode int

const (
	// CredentialCreate validates a password set on a brand new record
	CredentialCreate CredentialMode = iota
	// CredentialUpdate validates a change on an activated record; the
	// current password must match the stored digest
	CredentialUpdate
	// CredentialActivate validates the first password set while activating
	// an invited account; there is no usable current password to check
	CredentialActivate
)

// PasswordChange carries the password fields submitted with a form
type PasswordChange struct {
	Current      string
	Password     string
	Confirmation string
}

// ValidationErrors maps field names to user-facing messages
type ValidationErrors map[string][]string

// Add records a validation failure for a field
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

// Any reports whether any validation failure was recorded
func (v ValidationErrors) Any() bool {
	return len(v) > 0
}

// HashPassword computes the digest for a plaintext password under a salt
func HashPassword(salt, password string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(salt+"--"+password)))
}

// NewSalt generates a fresh high-entropy salt. The output shape matches the
// legacy scheme: 32 lowercase hex characters.
func NewSalt() string {
	seed := fmt.Sprintf("%s.%d.cactuar", uuid.NewString(), time.Now().UnixNano())
	return fmt.Sprintf("%x", md5.Sum([]byte(seed)))
}

// IsSet reports whether the credential holds a usable password digest
func (c Credential) IsSet() bool {
	return c.Salt != "" && c.Crypted != ""
}

// Check reports whether a plaintext password matches the stored digest
func (c Credential) Check(password string) bool {
	if !c.IsSet() {
		return false
	}
	return HashPassword(c.Salt, password) == c.Crypted
}

// Validate applies the credential rules for the given mode. required forces
// a password to be present on create; delegated Identity records require one
// while invited accounts do not.
func (c Credential) Validate(mode CredentialMode, change PasswordChange, required bool) ValidationErrors {
	errs := ValidationErrors{}

	switch mode {
	case CredentialCreate:
		if required && change.Password == "" {
			errs.Add("password", "is required")
		}
		if (change.Password != "" || change.Confirmation != "") && change.Confirmation != change.Password {
			errs.Add("password_confirmation", "does not match password")
		}
	case CredentialUpdate:
		if !c.Check(change.Current) {
			errs.Add("current_password", "is incorrect")
		}
		if change.Password != "" && change.Confirmation != change.Password {
			errs.Add("password_confirmation", "does not match password")
		}
	case CredentialActivate:
		if change.Password == "" {
			errs.Add("password", "is required")
		}
		if change.Confirmation != change.Password {
			errs.Add("password_confirmation", "does not match password")
		}
	}

	return errs
}

// Apply stores the digest for a new plaintext password, generating a salt on
// first use. A blank password leaves the stored digest untouched.
func (c *Credential) Apply(change PasswordChange) {
	if change.Password == "" {
		return
	}
	if c.Salt == "" {
		c.Salt = NewSalt()
	}
	c.Crypted = HashPassword(c.Salt, change.Password)
}
