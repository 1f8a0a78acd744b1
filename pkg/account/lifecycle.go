package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
)

// ErrSelfDelete indicates an admin tried to destroy their own account
var ErrSelfDelete = errors.New("cannot delete your own account")

const activationCodeLength = 10
const activationCodeCharset = "0123456789abcdefghijklmnopqrstuvwxyz"

// maxCodeAttempts bounds the retry-on-collision loop for activation codes
const maxCodeAttempts = 10

// Binder records a (provider, external id) -> account mapping. Implemented
// by the delegated binding registry.
type Binder interface {
	Bind(ctx context.Context, provider, uid string, accountID int64) error
}

// Lifecycle implements invitation, signup, activation and deletion
type Lifecycle struct {
	store   *Store
	mailer  Mailer
	binder  Binder
	baseURL string
	log     *logrus.Logger
}

// NewLifecycle creates the account lifecycle service
func NewLifecycle(store *Store, mailer Mailer, binder Binder, baseURL string, log *logrus.Logger) *Lifecycle {
	if log == nil {
		log = logrus.New()
	}
	return &Lifecycle{store: store, mailer: mailer, binder: binder, baseURL: baseURL, log: log}
}

// InviteInput carries the profile fields for an admin invitation
type InviteInput struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// Invite creates an unactivated account with a fresh unique activation code
// and notifies the invitee by mail. The account has no password until it is
// activated.
func (l *Lifecycle) Invite(ctx context.Context, in InviteInput) (*Account, ValidationErrors, error) {
	errs := ValidationErrors{}
	if in.Username == "" {
		errs.Add("username", "is required")
	}
	if in.Email == "" {
		errs.Add("email", "is required")
	}
	if errs.Any() {
		return nil, errs, nil
	}

	code, err := l.freshActivationCode(ctx)
	if err != nil {
		return nil, nil, err
	}

	a := &Account{
		Username:       in.Username,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          in.Email,
		Activated:      false,
		ActivationCode: code,
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		if err == ErrUsernameTaken {
			errs.Add("username", "is already taken")
			return nil, errs, nil
		}
		return nil, nil, err
	}

	subject := "New account invitation"
	body := fmt.Sprintf("Hello %s,\n\n"+
		"An account has been created for you. Visit the link below to choose a password and activate it:\n\n"+
		"%s/activate/%s\n", a.FirstName, l.baseURL, a.ActivationCode)
	if err := l.mailer.Send(a.Email, subject, body); err != nil {
		// invitation mail is fire-and-forget; the code stays valid and can
		// be re-sent by hand
		l.log.WithError(err).WithField("email", a.Email).Warn("failed to send invitation mail")
	}

	return a, nil, nil
}

// Activate consumes an activation code: the bound unactivated account gets
// the submitted password and transitions to activated.
func (l *Lifecycle) Activate(ctx context.Context, code string, change PasswordChange) (*Account, ValidationErrors, error) {
	a, err := l.store.FindByActivationCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	if errs := a.Credential.Validate(CredentialActivate, change, true); errs.Any() {
		return a, errs, nil
	}

	a.Credential.Apply(change)
	a.Activated = true
	a.ActivationCode = ""
	if err := l.store.UpdateAccount(ctx, a); err != nil {
		return nil, nil, err
	}
	l.log.WithField("username", a.Username).Info("account activated")
	return a, nil, nil
}

// SignupInput carries the fields for self-signup
type SignupInput struct {
	Username     string
	FirstName    string
	LastName     string
	Email        string
	Password     string
	Confirmation string
}

// Signup creates an activated account together with its delegated identity
// credential and the binding that resolves future logins to the account.
func (l *Lifecycle) Signup(ctx context.Context, in SignupInput) (*Account, ValidationErrors, error) {
	errs := ValidationErrors{}
	if in.Username == "" {
		errs.Add("username", "is required")
	}
	change := PasswordChange{Password: in.Password, Confirmation: in.Confirmation}
	cred := Credential{}
	for field, msgs := range cred.Validate(CredentialCreate, change, true) {
		errs[field] = append(errs[field], msgs...)
	}
	if errs.Any() {
		return nil, errs, nil
	}

	a := &Account{
		Username:  in.Username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Activated: true,
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		if err == ErrUsernameTaken {
			errs.Add("username", "is already taken")
			return nil, errs, nil
		}
		return nil, nil, err
	}

	cred.Apply(change)
	ident := &Identity{
		Username:   in.Username,
		Email:      in.Email,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Credential: cred,
	}
	if err := l.store.CreateIdentity(ctx, ident); err != nil {
		return nil, nil, err
	}
	if err := l.binder.Bind(ctx, "identity", in.Username, a.ID); err != nil {
		return nil, nil, err
	}

	l.log.WithField("username", a.Username).Info("account created via signup")
	return a, nil, nil
}

// Destroy deletes an account and its dependents. Admins may never destroy
// their own account.
func (l *Lifecycle) Destroy(ctx context.Context, actor *Account, targetID int64) error {
	if actor != nil && actor.ID == targetID {
		return ErrSelfDelete
	}
	if err := l.store.DeleteAccount(ctx, targetID); err != nil {
		return err
	}
	l.log.WithField("account_id", targetID).Info("account deleted")
	return nil
}

func (l *Lifecycle) freshActivationCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode(activationCodeLength)
		if err != nil {
			return "", err
		}
		exists, err := l.store.ActivationCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("failed to generate a unique activation code")
}

func randomCode(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(activationCodeCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate activation code: %w", err)
		}
		out[i] = activationCodeCharset[n.Int64()]
	}
	return string(out), nil
}
