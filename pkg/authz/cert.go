package authz

import (
	"strings"

	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/security"
)

// CertAuthenticator resolves a Connection's leading peer certificate to a
// Principal by verifying it against the cluster CA and reading back its
// Subject.CommonName, stripped of the issuing role's prefix (e.g.
// "framework-marathon" becomes principal "marathon"). Connections
// presenting no certificate, or one that fails verification, resolve to no
// principal rather than an error — the master treats that as an anonymous
// connection: refused when authentication is required, otherwise handed to
// the Authorizer with an empty principal.
type CertAuthenticator struct {
	ca *security.CertAuthority
}

// NewCertAuthenticator wraps an initialized CertAuthority.
func NewCertAuthenticator(ca *security.CertAuthority) *CertAuthenticator {
	return &CertAuthenticator{ca: ca}
}

// Authenticate verifies conn's leading peer certificate and extracts a
// principal from its common name.
func (c *CertAuthenticator) Authenticate(conn Connection) *future.Future[*Principal] {
	if len(conn.PeerCertificates) == 0 {
		return future.Done[*Principal](nil, nil)
	}

	leaf := conn.PeerCertificates[0]
	if err := c.ca.VerifyCertificate(leaf); err != nil {
		return future.Done[*Principal](nil, nil)
	}

	principal := Principal(stripRolePrefix(leaf.Subject.CommonName))
	return future.Done(&principal, nil)
}

func stripRolePrefix(cn string) string {
	for _, prefix := range []string{"agent-", "framework-", "cli-"} {
		if strings.HasPrefix(cn, prefix) {
			return strings.TrimPrefix(cn, prefix)
		}
	}
	return cn
}
