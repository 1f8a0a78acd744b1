package account

import "time"

// Account represents an identity-provider subject
type Account struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Email          string     `json:"email,omitempty"`
	Activated      bool       `json:"activated"`
	Admin          bool       `json:"admin"`
	ActivationCode string     `json:"-"` // empty once no longer relevant
	Credential     Credential `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Identity represents the delegated password credential record used for
// logins that are decoupled from the account itself
type Identity struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	Credential Credential `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Nickname returns the account's nickname profile attribute
func (a *Account) Nickname() string {
	return a.Username
}

// FullName returns "First Last", or empty when either part is missing
func (a *Account) FullName() string {
	if a.FirstName == "" || a.LastName == "" {
		return ""
	}
	return a.FirstName + " " + a.LastName
}

// ProfileData returns the profile attributes this account is willing to
// expose to relying parties. Only the fixed attribute set supported by the
// protocol profile is included.
func (a *Account) ProfileData() map[string]string {
	data := map[string]string{
		"nickname": a.Nickname(),
	}
	if full := a.FullName(); full != "" {
		data["fullname"] = full
	}
	if a.Email != "" {
		data["email"] = a.Email
	}
	return data
}
