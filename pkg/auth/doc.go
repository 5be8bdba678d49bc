// Package auth defines the identity model shared by the authorization
// engine: actors, the closed role set, capability scopes, and the request
// metadata carried into the audit trail.
//
// The package is deliberately free of persistence; actors arrive already
// resolved by the transport layer and are handed to pkg/rbac and pkg/guard
// through the request context.
package auth
