// Package jwt encodes, signs and verifies access tokens.
//
// # Verification order
//
// Verify checks the signature before anything else. Only a token whose signature,
// algorithm, key id, issuer and audience are all acceptable can be reported as
// expired; every other failure is reported as [ErrSignatureInvalid]. Expiry is
// evaluated against the caller-supplied clock with no leeway.
//
// # What this package must NOT do
//
//   - Perform I/O or touch the refresh-token store.
//   - Import authsession, session or refresh.
package jwt
