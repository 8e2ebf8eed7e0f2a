// Package auth verifies the credentials presented on the ingestion routes.
//
// Two credential kinds are accepted alongside the source-address allowlist
// enforced by the API layer:
//   - a shared webhook secret, stored only as an Argon2id PHC hash
//   - an HS256 bearer token naming the calling integration
package auth
