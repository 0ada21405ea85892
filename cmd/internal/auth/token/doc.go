// Package token resolves WebSocket and REST bearer credentials into identities.
//
// Credentials are HS256 JWTs issued by the account service. The claim set is
// minimal: "id" (ULID of the user), "name", "email" and the registered
// iss/iat/nbf/exp claims. Issuance lives here too so development tooling and
// tests can mint credentials the resolver accepts.
package token
