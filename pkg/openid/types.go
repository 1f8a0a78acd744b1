package openid

import "net/url"

// AssertionRequest is a decoded identity-assertion request from a relying
// party. The struct is JSON-serializable so a suspended request can be
// stashed in the browser session across redirects.
type AssertionRequest struct {
	// Identity is the identity URL the relying party asks about; empty
	// when IDSelect is set
	Identity string `json:"identity,omitempty"`
	// IDSelect is true when the relying party lets the provider choose
	// whichever identity the logged-in user represents
	IDSelect bool `json:"id_select"`
	// Immediate requests an answer without any user interaction
	Immediate bool `json:"immediate"`
	// TrustRoot identifies the relying party asking
	TrustRoot string `json:"trust_root"`
	// ReturnTo is where the answer gets delivered
	ReturnTo string `json:"return_to,omitempty"`
	// CancelURL receives the user when they refuse the request
	CancelURL string `json:"cancel_url,omitempty"`
	// ProfileFields lists the profile attributes the relying party asked
	// for, already filtered to the supported set
	ProfileFields []string `json:"profile_fields,omitempty"`
}

// Message is a decoded protocol message. Assertion is nil for handshake
// messages (association, verification) that bypass the engine.
type Message struct {
	Assertion *AssertionRequest
	Raw       url.Values
}

// Outcome is a codec-owned answer in protocol terms. The engine treats it
// as opaque and only hands it back to the codec for enrichment or encoding.
type Outcome interface{}

// WebResponse is an encoded outcome ready for transport: 200 carries a
// direct body, 302 a redirect, anything else a provider error.
type WebResponse struct {
	Status   int
	Body     string
	Location string
}

// Codec is the wire-level protocol collaborator. Implementations own
// message encoding, decoding and signing; the engine owns the decisions.
type Codec interface {
	// Decode parses raw request parameters into a Message
	Decode(params url.Values) (*Message, error)
	// Answer builds a positive or negative assertion answer. errorRedirect
	// is only meaningful for negative answers and may be empty; identity
	// only for positive ones.
	Answer(req *AssertionRequest, allowed bool, errorRedirect, identity string) Outcome
	// AddProfileAttributes attaches profile data to a positive answer,
	// filtered to the fields the request asked for
	AddProfileAttributes(out Outcome, data map[string]string)
	// Encode renders an outcome into a transport response
	Encode(out Outcome) (WebResponse, error)
	// HandleNonAssertion answers handshake messages directly
	HandleNonAssertion(msg *Message) Outcome
}
