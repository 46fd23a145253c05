// Package authz implements the master's pluggable authentication and
// authorization contracts: Authenticator resolves an inbound
// connection to a principal, and Authorizer decides whether a principal may
// perform a given Action against a given object. Both are suspension points
// the master actor yields on rather than blocking — every implementation
// answers through a *future.Future, whether or not it actually does I/O.
package authz
