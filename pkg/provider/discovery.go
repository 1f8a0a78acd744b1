package provider

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/viking/cactuar/pkg/account"
)

const (
	xrdsContentType = "application/xrds+xml"

	serverXRDS = `<?xml version="1.0" encoding="UTF-8"?>
<xrds:XRDS xmlns:xrds="xri://$xrds" xmlns="xri://$xrd*($v*2.0)">
  <XRD>
    <Service priority="0">
      <Type>http://specs.openid.net/auth/2.0/server</Type>
      <Type>http://openid.net/sreg/1.0</Type>
      <URI>%s</URI>
    </Service>
  </XRD>
</xrds:XRDS>
`

	signonXRDS = `<?xml version="1.0" encoding="UTF-8"?>
<xrds:XRDS xmlns:xrds="xri://$xrds" xmlns="xri://$xrd*($v*2.0)">
  <XRD>
    <Service priority="0">
      <Type>http://specs.openid.net/auth/2.0/signon</Type>
      <Type>http://openid.net/sreg/1.0</Type>
      <URI>%s</URI>
      <LocalID>%s</LocalID>
    </Service>
  </XRD>
</xrds:XRDS>
`
)

// serverXRDSHandler serves the provider discovery document used for
// identifier-select logins against the server URL itself
func (p *Provider) serverXRDSHandler(w http.ResponseWriter, r *http.Request) {
	p.metrics.DiscoveryTotal.WithLabelValues("server").Inc()
	w.Header().Set("Content-Type", xrdsContentType)
	fmt.Fprintf(w, serverXRDS, p.engine.EndpointURL())
}

// userXRDSHandler serves the claimed-identifier discovery document for
// one user's identity URL
func (p *Provider) userXRDSHandler(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	acct, err := p.accounts.GetAccountByUsername(r.Context(), username)
	if err == account.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		p.log.WithError(err).Error("failed to look up user for discovery")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !acct.Activated {
		http.NotFound(w, r)
		return
	}

	p.metrics.DiscoveryTotal.WithLabelValues("signon").Inc()
	w.Header().Set("Content-Type", xrdsContentType)
	fmt.Fprintf(w, signonXRDS, p.engine.EndpointURL(), p.engine.IdentityURL(acct.Username))
}

// userPageHandler serves the human-readable identity page. The XRDS
// location header and the link tags both point relying parties at the
// assertion endpoint.
func (p *Provider) userPageHandler(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	acct, err := p.accounts.GetAccountByUsername(r.Context(), username)
	if err == account.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		p.log.WithError(err).Error("failed to look up user page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !acct.Activated {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-XRDS-Location", p.baseURL+"/"+acct.Username+"/xrds")
	p.render(w, http.StatusOK, "user", page{
		Title:          acct.Username,
		Subject:        acct,
		OpenIDEndpoint: p.engine.EndpointURL(),
		OpenIDLocalID:  p.engine.IdentityURL(acct.Username),
	})
}
