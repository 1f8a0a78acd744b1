// Package openid contains the authorization engine at the heart of the
// Cactuar identity provider, together with the types it exchanges with the
// wire-level protocol codec.
//
// # Overview
//
// An identity-assertion request arrives as an AssertionRequest. The Engine
// decides, from the current session, whether to answer it outright, deny it
// (immediate mode tolerates no interaction), or suspend it: the request is
// stashed in the browser session and the user is sent to the login or
// consent step. A later login or consent submission takes the pending
// request back out of the session, exactly once, and re-evaluates it.
//
// The engine never touches the wire format. Encoding, signing and the
// association handshake belong to the Codec collaborator; the engine only
// asks it to answer requests and relays encoded responses.
package openid
