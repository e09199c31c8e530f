// Package refresh implements the opaque refresh-token credential.
//
// # Token format
//
// A token value is base64url (no padding) over 72 bytes: the subject user id as a
// big-endian uint64, a 32-byte random secret, and an HMAC-SHA256 over both under
// the process MAC key. A value whose MAC does not verify names no subject. The
// server never stores the value itself; the session store retains only its
// SHA-256 digest.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O beyond the system random source.
//   - Import authsession, jwt, or session.
//   - Implement rotation or replay policy.
package refresh
