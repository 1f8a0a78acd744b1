// Package provider is the HTTP surface of the identity provider.
//
// # Overview
//
// Routes fall into four groups: the OpenID protocol endpoints
// (/openid/auth, /openid/decide, discovery documents), the account
// pages (login, signup, activation, profile editing), the admin area,
// and the optional delegated upstream login.
//
// Protocol requests are decoded by the wire codec and decided by the
// engine in pkg/openid; this package only translates engine decisions
// into redirects and rendered pages. Identity URLs double as routes:
// /{username} serves the identity page with its discovery pointers,
// so fixed paths are registered ahead of it.
package provider
