package authz

import (
	"crypto/x509"
	"testing"

	"github.com/cuemby/clustermaster/pkg/security"
	"github.com/stretchr/testify/require"
)

func newTestCA(t *testing.T) *security.CertAuthority {
	t.Helper()
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())
	return ca
}

func TestCertAuthenticatorResolvesPrincipalFromVerifiedCert(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueFrameworkCertificate("marathon")
	require.NoError(t, err)

	auth := NewCertAuthenticator(ca)
	principal, err := auth.Authenticate(Connection{PeerCertificates: []*x509.Certificate{cert.Leaf}}).Await()
	require.NoError(t, err)
	require.NotNil(t, principal)
	require.Equal(t, Principal("marathon"), *principal)
}

func TestCertAuthenticatorReturnsNoPrincipalWithoutCertificate(t *testing.T) {
	ca := newTestCA(t)
	auth := NewCertAuthenticator(ca)

	principal, err := auth.Authenticate(Connection{}).Await()
	require.NoError(t, err)
	require.Nil(t, principal)
}

func TestCertAuthenticatorRejectsCertFromAnotherCA(t *testing.T) {
	ca1 := newTestCA(t)
	ca2 := newTestCA(t)

	foreignCert, err := ca2.IssueFrameworkCertificate("intruder")
	require.NoError(t, err)

	auth := NewCertAuthenticator(ca1)
	principal, err := auth.Authenticate(Connection{PeerCertificates: []*x509.Certificate{foreignCert.Leaf}}).Await()
	require.NoError(t, err)
	require.Nil(t, principal)
}

func TestCertAuthenticatorStripsClientPrefix(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueClientCertificate("operator@laptop")
	require.NoError(t, err)

	auth := NewCertAuthenticator(ca)
	principal, err := auth.Authenticate(Connection{PeerCertificates: []*x509.Certificate{cert.Leaf}}).Await()
	require.NoError(t, err)
	require.Equal(t, Principal("operator@laptop"), *principal)
}
