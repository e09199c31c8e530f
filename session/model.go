package session

import "time"

// Record is the server-side state of a user's active refresh token.
type Record struct {
	UserID    int64
	Hash      [32]byte
	IssuedAt  int64
	ExpiresAt int64
}

// NewRecord builds a Record from wall-clock times.
func NewRecord(userID int64, hash [32]byte, issuedAt, expiresAt time.Time) Record {
	return Record{
		UserID:    userID,
		Hash:      hash,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
}

// ExpiredAt reports whether the record is no longer usable at now.
func (r Record) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt <= now.Unix()
}

// ttl returns the backend lifetime of the record measured from its issue time.
func (r Record) ttl() time.Duration {
	return time.Duration(r.ExpiresAt-r.IssuedAt) * time.Second
}
