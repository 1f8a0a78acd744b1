package openid

import (
	"context"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking/cactuar/pkg/account"
)

// fakeOutcome records the answer the engine produced
type fakeOutcome struct {
	allowed       bool
	errorRedirect string
	identity      string
	attrs         map[string]string
}

type fakeCodec struct{}

func (fakeCodec) Decode(params url.Values) (*Message, error) { return &Message{Raw: params}, nil }

func (fakeCodec) Answer(req *AssertionRequest, allowed bool, errorRedirect, identity string) Outcome {
	return &fakeOutcome{allowed: allowed, errorRedirect: errorRedirect, identity: identity}
}

func (fakeCodec) AddProfileAttributes(out Outcome, data map[string]string) {
	out.(*fakeOutcome).attrs = data
}

func (fakeCodec) Encode(out Outcome) (WebResponse, error) { return WebResponse{}, nil }

func (fakeCodec) HandleNonAssertion(msg *Message) Outcome { return &fakeOutcome{} }

type fakeTrust struct {
	approved map[string]bool
	grants   []string
}

func trustKey(userID int64, root string) string {
	return root
}

func (f *fakeTrust) IsApproved(ctx context.Context, userID int64, trustRoot string) (bool, error) {
	return f.approved[trustKey(userID, trustRoot)], nil
}

func (f *fakeTrust) Approve(ctx context.Context, userID int64, trustRoot string) error {
	if f.approved == nil {
		f.approved = map[string]bool{}
	}
	f.approved[trustKey(userID, trustRoot)] = true
	f.grants = append(f.grants, trustRoot)
	return nil
}

type memStash struct {
	pending *AssertionRequest
}

func (m *memStash) PutPending(ctx context.Context, req *AssertionRequest) error {
	m.pending = req
	return nil
}

func (m *memStash) PeekPending(ctx context.Context) (*AssertionRequest, error) {
	return m.pending, nil
}

func (m *memStash) TakePending(ctx context.Context) (*AssertionRequest, error) {
	req := m.pending
	m.pending = nil
	return req, nil
}

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestEngine(trust *fakeTrust) *Engine {
	return NewEngine(fakeCodec{}, trust, "http://idp.example.com", silentLogger())
}

func viking() *account.Account {
	return &account.Account{
		ID:        1,
		Username:  "viking",
		FirstName: "Jeremy",
		LastName:  "Stephens",
		Email:     "v@example.com",
		Activated: true,
	}
}

func fixedRequest(immediate bool) *AssertionRequest {
	return &AssertionRequest{
		Identity:      "http://idp.example.com/viking",
		Immediate:     immediate,
		TrustRoot:     "http://rp.example.com/",
		ReturnTo:      "http://rp.example.com/return",
		CancelURL:     "http://rp.example.com/return?cancel=1",
		ProfileFields: []string{"nickname", "email"},
	}
}

func idSelectRequest(immediate bool) *AssertionRequest {
	req := fixedRequest(immediate)
	req.Identity = ""
	req.IDSelect = true
	return req
}

func TestEvaluateApprovedMatch(t *testing.T) {
	trust := &fakeTrust{approved: map[string]bool{"http://rp.example.com/": true}}
	engine := newTestEngine(trust)
	stash := &memStash{}

	dec, err := engine.Evaluate(context.Background(), fixedRequest(false), stash, viking())
	require.NoError(t, err)
	require.Equal(t, DecisionAnswer, dec.Kind)

	out := dec.Outcome.(*fakeOutcome)
	assert.True(t, out.allowed)
	assert.Equal(t, "http://idp.example.com/viking", out.identity)
	assert.Equal(t, viking().ProfileData(), out.attrs)
	assert.Nil(t, stash.pending)
}

func TestEvaluateImmediate(t *testing.T) {
	t.Run("unauthenticated gets setup redirect", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.Evaluate(context.Background(), fixedRequest(true), &memStash{}, nil)
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)

		out := dec.Outcome.(*fakeOutcome)
		assert.False(t, out.allowed)
		assert.Equal(t, "http://idp.example.com/openid/auth", out.errorRedirect)
	})

	t.Run("matched but unapproved gets setup redirect", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.Evaluate(context.Background(), fixedRequest(true), &memStash{}, viking())
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)

		out := dec.Outcome.(*fakeOutcome)
		assert.False(t, out.allowed)
		assert.Equal(t, "http://idp.example.com/openid/auth", out.errorRedirect)
	})

	t.Run("identifier select can never succeed immediately", func(t *testing.T) {
		trust := &fakeTrust{approved: map[string]bool{"http://rp.example.com/": true}}
		engine := newTestEngine(trust)
		dec, err := engine.Evaluate(context.Background(), idSelectRequest(true), &memStash{}, viking())
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)

		out := dec.Outcome.(*fakeOutcome)
		assert.False(t, out.allowed)
		assert.Empty(t, out.errorRedirect)
	})
}

func TestEvaluateSuspendsToLogin(t *testing.T) {
	t.Run("unauthenticated fixed identity", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{}
		req := fixedRequest(false)

		dec, err := engine.Evaluate(context.Background(), req, stash, nil)
		require.NoError(t, err)
		assert.Equal(t, DecisionLogin, dec.Kind)
		assert.Equal(t, req, stash.pending)
	})

	t.Run("unauthenticated identifier select", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{}

		dec, err := engine.Evaluate(context.Background(), idSelectRequest(false), stash, nil)
		require.NoError(t, err)
		assert.Equal(t, DecisionLogin, dec.Kind)
		assert.NotNil(t, stash.pending)
	})

	t.Run("logged in as someone else", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{}
		other := &account.Account{ID: 2, Username: "other", Activated: true}

		dec, err := engine.Evaluate(context.Background(), fixedRequest(false), stash, other)
		require.NoError(t, err)
		assert.Equal(t, DecisionLogin, dec.Kind)
		assert.NotNil(t, stash.pending)
	})
}

func TestEvaluateSuspendsToConsent(t *testing.T) {
	engine := newTestEngine(&fakeTrust{})
	stash := &memStash{}
	req := fixedRequest(false)

	dec, err := engine.Evaluate(context.Background(), req, stash, viking())
	require.NoError(t, err)
	assert.Equal(t, DecisionConsent, dec.Kind)
	assert.Equal(t, req, stash.pending)
}

func TestEvaluateIDSelectUsesSessionIdentity(t *testing.T) {
	trust := &fakeTrust{approved: map[string]bool{"http://rp.example.com/": true}}
	engine := newTestEngine(trust)

	dec, err := engine.Evaluate(context.Background(), idSelectRequest(false), &memStash{}, viking())
	require.NoError(t, err)
	require.Equal(t, DecisionAnswer, dec.Kind)
	assert.Equal(t, "http://idp.example.com/viking", dec.Outcome.(*fakeOutcome).identity)
}

func TestResumeAfterLogin(t *testing.T) {
	t.Run("no pending request goes to the account page", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.ResumeAfterLogin(context.Background(), &memStash{}, viking())
		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, dec.Kind)
		assert.Equal(t, "/account", dec.Location)
	})

	t.Run("matching login continues to consent", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{pending: fixedRequest(false)}

		dec, err := engine.ResumeAfterLogin(context.Background(), stash, viking())
		require.NoError(t, err)
		assert.Equal(t, DecisionConsent, dec.Kind)
		assert.NotNil(t, stash.pending)
	})

	t.Run("matching login with prior approval answers at once", func(t *testing.T) {
		trust := &fakeTrust{approved: map[string]bool{"http://rp.example.com/": true}}
		engine := newTestEngine(trust)
		stash := &memStash{pending: fixedRequest(false)}

		dec, err := engine.ResumeAfterLogin(context.Background(), stash, viking())
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)
		assert.True(t, dec.Outcome.(*fakeOutcome).allowed)
	})

	t.Run("wrong subject discards the pending request", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{pending: fixedRequest(false)}
		other := &account.Account{ID: 2, Username: "other", Activated: true}

		dec, err := engine.ResumeAfterLogin(context.Background(), stash, other)
		require.NoError(t, err)
		assert.Equal(t, DecisionLogin, dec.Kind)
		assert.Nil(t, stash.pending)
	})

	t.Run("identifier select accepts any subject", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{pending: idSelectRequest(false)}
		other := &account.Account{ID: 2, Username: "other", Activated: true}

		dec, err := engine.ResumeAfterLogin(context.Background(), stash, other)
		require.NoError(t, err)
		assert.Equal(t, DecisionConsent, dec.Kind)
	})
}

func TestCancelLogin(t *testing.T) {
	t.Run("with pending request", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{pending: fixedRequest(false)}

		dec, err := engine.CancelLogin(context.Background(), stash)
		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, dec.Kind)
		assert.Equal(t, "http://rp.example.com/return?cancel=1", dec.Location)
		assert.Nil(t, stash.pending)
	})

	t.Run("without pending request", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.CancelLogin(context.Background(), &memStash{})
		require.NoError(t, err)
		assert.Equal(t, "/", dec.Location)
	})
}

func TestResumeAfterConsent(t *testing.T) {
	t.Run("approval records trust and answers", func(t *testing.T) {
		trust := &fakeTrust{}
		engine := newTestEngine(trust)
		stash := &memStash{pending: fixedRequest(false)}

		dec, err := engine.ResumeAfterConsent(context.Background(), stash, viking(), true)
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)

		out := dec.Outcome.(*fakeOutcome)
		assert.True(t, out.allowed)
		assert.Equal(t, "http://idp.example.com/viking", out.identity)
		assert.Equal(t, []string{"http://rp.example.com/"}, trust.grants)
		assert.Nil(t, stash.pending)
	})

	t.Run("identifier select answers with the chosen identity", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		stash := &memStash{pending: idSelectRequest(false)}

		dec, err := engine.ResumeAfterConsent(context.Background(), stash, viking(), true)
		require.NoError(t, err)
		require.Equal(t, DecisionAnswer, dec.Kind)
		assert.Equal(t, "http://idp.example.com/viking", dec.Outcome.(*fakeOutcome).identity)
	})

	t.Run("denial cancels back to the relying party", func(t *testing.T) {
		trust := &fakeTrust{}
		engine := newTestEngine(trust)
		stash := &memStash{pending: fixedRequest(false)}

		dec, err := engine.ResumeAfterConsent(context.Background(), stash, viking(), false)
		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, dec.Kind)
		assert.Equal(t, "http://rp.example.com/return?cancel=1", dec.Location)
		assert.Empty(t, trust.grants)
	})

	t.Run("no authenticated account", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.ResumeAfterConsent(context.Background(), &memStash{}, nil, true)
		require.NoError(t, err)
		assert.Equal(t, "/", dec.Location)
	})

	t.Run("nothing pending", func(t *testing.T) {
		engine := newTestEngine(&fakeTrust{})
		dec, err := engine.ResumeAfterConsent(context.Background(), &memStash{}, viking(), true)
		require.NoError(t, err)
		assert.Equal(t, "/", dec.Location)
	})
}
