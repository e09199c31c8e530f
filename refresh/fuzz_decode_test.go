package refresh

import (
	"testing"
	"time"
)

// FuzzDecode feeds arbitrary strings to Decode. Invalid input must error cleanly and
// valid input must round-trip.
func FuzzDecode(f *testing.F) {
	c := testCodec(f)
	f.Add("")
	f.Add("abc")
	f.Add("aGVsbG8=")
	if tok, err := c.New(99, time.Unix(0, 0), time.Second); err == nil {
		f.Add(tok.Value)
	}

	f.Fuzz(func(t *testing.T, input string) {
		uid, secret, err := c.Decode(input)
		if err != nil {
			return
		}
		if uid <= 0 {
			t.Fatalf("decoded non-positive user id %d", uid)
		}
		uid2, secret2, err := c.Decode(c.Encode(uid, secret))
		if err != nil {
			t.Fatalf("roundtrip decode failed: %v", err)
		}
		if uid2 != uid || secret2 != secret {
			t.Fatal("roundtrip mismatch")
		}
	})
}
