/*
Package security provides the certificate authority behind mutual TLS
authentication for the master.

# Root CA

The CA uses a standard hierarchical structure: a long-lived, self-signed
root certificate issues short-lived leaf certificates.

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Cluster Master Root CA

# Leaf Certificates

	Agent Certificate      — CN=agent-{agentID},      ServerAuth + ClientAuth
	Framework Certificate  — CN=framework-{principal},  ClientAuth only
	Client Certificate     — CN=cli-{clientID},         ClientAuth only

All leaves are RSA 2048-bit, valid 90 days, and cached in memory by the
issuing CA (GetCachedCert). Issuing again always generates a fresh keypair and replaces the cached
entry; the cache is never consulted when issuing.

# Usage

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		panic(err)
	}

	agentCert, err := ca.IssueAgentCertificate(agentID, dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

	if err := ca.VerifyCertificate(agentCert.Leaf); err != nil {
		// reject the connection
	}

Certificates persist to disk via SaveCertToFile/LoadCertFromFile and
SaveCACertToFile/LoadCACertFromFile, one PEM pair per identity directory
(see GetCertDir/GetCLICertDir). CertNeedsRotation flags a certificate
within 30 days of expiry so a caller can re-issue before it lapses.

# Integration

pkg/authz's cert-based Authenticator calls VerifyCertificate against a
connection's peer certificate and reads the principal back out of its
Subject.CommonName. The master's API listeners use CA-issued server
certificates and require client certificates when --authentication-required
names a cert-based authenticator.
*/
package security
