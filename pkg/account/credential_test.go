package account

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	// digest must stay byte-compatible with rows written by the legacy
	// implementation: md5 of "salt--password"
	assert.Equal(t, "51a799d9d17dc8698d6f41f757d8e5bb", HashPassword("salt", "monkey"))
}

func TestNewSalt(t *testing.T) {
	salt := NewSalt()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), salt)
	assert.NotEqual(t, salt, NewSalt())
}

func TestCredentialCheck(t *testing.T) {
	cred := Credential{Salt: "abc"}
	cred.Apply(PasswordChange{Password: "secret"})

	assert.True(t, cred.Check("secret"))
	assert.False(t, cred.Check("wrong"))
	assert.False(t, Credential{}.Check("anything"))
}

func TestCredentialApply(t *testing.T) {
	t.Run("generates salt on first use", func(t *testing.T) {
		cred := Credential{}
		cred.Apply(PasswordChange{Password: "secret"})
		require.NotEmpty(t, cred.Salt)
		assert.Equal(t, HashPassword(cred.Salt, "secret"), cred.Crypted)
	})

	t.Run("keeps existing salt", func(t *testing.T) {
		cred := Credential{Salt: "fixed"}
		cred.Apply(PasswordChange{Password: "secret"})
		assert.Equal(t, "fixed", cred.Salt)
	})

	t.Run("blank password leaves digest untouched", func(t *testing.T) {
		cred := Credential{Salt: "fixed", Crypted: "olddigest"}
		cred.Apply(PasswordChange{})
		assert.Equal(t, "olddigest", cred.Crypted)
	})
}

func TestCredentialValidateCreate(t *testing.T) {
	t.Run("required password missing", func(t *testing.T) {
		errs := Credential{}.Validate(CredentialCreate, PasswordChange{}, true)
		assert.Contains(t, errs, "password")
	})

	t.Run("optional password missing", func(t *testing.T) {
		errs := Credential{}.Validate(CredentialCreate, PasswordChange{}, false)
		assert.False(t, errs.Any())
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		errs := Credential{}.Validate(CredentialCreate, PasswordChange{Password: "a", Confirmation: "b"}, true)
		assert.Contains(t, errs, "password_confirmation")
	})

	t.Run("valid", func(t *testing.T) {
		errs := Credential{}.Validate(CredentialCreate, PasswordChange{Password: "a", Confirmation: "a"}, true)
		assert.False(t, errs.Any())
	})
}

func TestCredentialValidateUpdate(t *testing.T) {
	cred := Credential{Salt: "s"}
	cred.Apply(PasswordChange{Password: "current"})

	t.Run("wrong current password", func(t *testing.T) {
		errs := cred.Validate(CredentialUpdate, PasswordChange{Current: "nope", Password: "new", Confirmation: "new"}, false)
		assert.Contains(t, errs, "current_password")
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		errs := cred.Validate(CredentialUpdate, PasswordChange{Current: "current", Password: "new", Confirmation: "other"}, false)
		assert.Contains(t, errs, "password_confirmation")
	})

	t.Run("valid change", func(t *testing.T) {
		errs := cred.Validate(CredentialUpdate, PasswordChange{Current: "current", Password: "new", Confirmation: "new"}, false)
		assert.False(t, errs.Any())
	})
}

func TestCredentialValidateActivate(t *testing.T) {
	t.Run("password required", func(t *testing.T) {
		errs := Credential{}.Validate(CredentialActivate, PasswordChange{}, true)
		assert.Contains(t, errs, "password")
	})

	t.Run("no current password check", func(t *testing.T) {
		// invited accounts have no usable password yet
		errs := Credential{}.Validate(CredentialActivate, PasswordChange{Password: "new", Confirmation: "new"}, true)
		assert.False(t, errs.Any())
	})
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{}
	assert.False(t, errs.Any())
	errs.Add("field", "is wrong")
	errs.Add("field", "is also late")
	assert.True(t, errs.Any())
	assert.Len(t, errs["field"], 2)
}
