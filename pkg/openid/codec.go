package openid

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"

// SimpleCodec is a reference wire codec for unsigned positive and
// negative assertions. It understands the checkid modes and the simple
// registration profile fields. Deployments needing signed associations
// can swap in a different Codec without touching the engine.
type SimpleCodec struct {
	endpoint string
}

// NewSimpleCodec creates the reference codec. endpoint is the assertion
// endpoint URL stamped into positive answers.
func NewSimpleCodec(endpoint string) *SimpleCodec {
	return &SimpleCodec{endpoint: endpoint}
}

type simpleOutcome struct {
	req      *AssertionRequest
	allowed  bool
	retryAt  string
	identity string
	attrs    map[string]string
	badMsg   string
}

// Decode parses a protocol message from query or form parameters
func (c *SimpleCodec) Decode(params url.Values) (*Message, error) {
	mode := params.Get("openid.mode")
	if mode == "" {
		return nil, fmt.Errorf("missing openid.mode parameter")
	}

	msg := &Message{Raw: params}
	if mode != "checkid_setup" && mode != "checkid_immediate" {
		return msg, nil
	}

	identity := params.Get("openid.identity")
	if identity == "" {
		identity = params.Get("openid.claimed_id")
	}
	trustRoot := params.Get("openid.realm")
	if trustRoot == "" {
		trustRoot = params.Get("openid.trust_root")
	}
	returnTo := params.Get("openid.return_to")
	if trustRoot == "" {
		trustRoot = returnTo
	}
	if identity == "" || trustRoot == "" {
		return nil, fmt.Errorf("malformed %s request: missing identity or trust root", mode)
	}

	msg.Assertion = &AssertionRequest{
		Identity:      identity,
		IDSelect:      identity == identifierSelect,
		Immediate:     mode == "checkid_immediate",
		TrustRoot:     trustRoot,
		ReturnTo:      returnTo,
		CancelURL:     cancelURL(returnTo),
		ProfileFields: sregFields(params),
	}
	return msg, nil
}

// Answer builds a positive or negative assertion outcome
func (c *SimpleCodec) Answer(req *AssertionRequest, allowed bool, errorRedirect, identity string) Outcome {
	return &simpleOutcome{
		req:      req,
		allowed:  allowed,
		retryAt:  errorRedirect,
		identity: identity,
	}
}

// AddProfileAttributes attaches registration data to a positive
// assertion, restricted to the fields the relying party asked for
func (c *SimpleCodec) AddProfileAttributes(out Outcome, data map[string]string) {
	so, ok := out.(*simpleOutcome)
	if !ok || !so.allowed || so.req == nil {
		return
	}
	for _, field := range so.req.ProfileFields {
		if value, ok := data[field]; ok && value != "" {
			if so.attrs == nil {
				so.attrs = make(map[string]string)
			}
			so.attrs[field] = value
		}
	}
}

// HandleNonAssertion answers protocol messages other than the checkid
// modes. Association and verification need signing state this codec
// does not keep, so they are rejected.
func (c *SimpleCodec) HandleNonAssertion(msg *Message) Outcome {
	mode := msg.Raw.Get("openid.mode")
	return &simpleOutcome{badMsg: fmt.Sprintf("unsupported openid.mode %q", mode)}
}

// Encode renders an outcome as the web response to send back through
// the user agent
func (c *SimpleCodec) Encode(out Outcome) (WebResponse, error) {
	so, ok := out.(*simpleOutcome)
	if !ok {
		return WebResponse{}, fmt.Errorf("unknown outcome type %T", out)
	}
	if so.badMsg != "" {
		return WebResponse{Status: http.StatusBadRequest, Body: so.badMsg}, nil
	}
	if so.req == nil || so.req.ReturnTo == "" {
		return WebResponse{Status: http.StatusBadRequest, Body: "request has no return_to URL"}, nil
	}

	params := url.Values{}
	params.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	switch {
	case so.allowed:
		params.Set("openid.mode", "id_res")
		params.Set("openid.identity", so.identity)
		params.Set("openid.claimed_id", so.identity)
		params.Set("openid.op_endpoint", c.endpoint)
		for field, value := range so.attrs {
			params.Set("openid.sreg."+field, value)
		}
	case so.retryAt != "":
		params.Set("openid.mode", "setup_needed")
		params.Set("openid.user_setup_url", so.retryAt)
	default:
		params.Set("openid.mode", "cancel")
	}

	return WebResponse{
		Status:   http.StatusFound,
		Location: appendParams(so.req.ReturnTo, params),
	}, nil
}

// cancelURL derives the redirect target for a user-cancelled request
func cancelURL(returnTo string) string {
	if returnTo == "" {
		return ""
	}
	params := url.Values{}
	params.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	params.Set("openid.mode", "cancel")
	return appendParams(returnTo, params)
}

func sregFields(params url.Values) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, list := range []string{params.Get("openid.sreg.required"), params.Get("openid.sreg.optional")} {
		for _, f := range strings.Split(list, ",") {
			f = strings.TrimSpace(f)
			if f != "" && !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func appendParams(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
