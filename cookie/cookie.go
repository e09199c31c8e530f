// Package cookie reads and writes the refresh-token cookie.
package cookie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultName is the refresh-token cookie name used when none is configured.
const DefaultName = "refresh_token"

// ErrNotFound is returned when the refresh cookie is absent or blank.
var ErrNotFound = errors.New("refresh token cookie not found")

// Extractor pulls the refresh-token value out of an inbound cookie set. It never
// parses or validates the value.
type Extractor struct {
	name string
}

// NewExtractor returns an Extractor for the cookie called name.
func NewExtractor(name string) *Extractor {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return &Extractor{name: name}
}

// Name returns the cookie name being looked up.
func (e *Extractor) Name() string {
	return e.name
}

// Extract returns the value of the first cookie carrying the configured name.
func (e *Extractor) Extract(cookies []*http.Cookie) (string, error) {
	for _, c := range cookies {
		if c == nil || c.Name != e.name {
			continue
		}
		v := strings.TrimSpace(c.Value)
		if v == "" {
			return "", ErrNotFound
		}
		return v, nil
	}
	return "", ErrNotFound
}

// FromRequest is Extract over r's Cookie header.
func (e *Extractor) FromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrNotFound
	}
	return e.Extract(r.Cookies())
}

// Config controls the attributes of the emitted Set-Cookie header.
type Config struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite string
}

// Validate reports attribute combinations browsers reject.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("cookie path must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "", "lax", "strict":
	case "none":
		if !c.Secure {
			return errors.New("cookie must be secure when SameSite=None")
		}
	default:
		return fmt.Errorf("unsupported SameSite mode %q", c.SameSite)
	}
	return nil
}

// Writer emits and clears the refresh-token cookie. The cookie is always HttpOnly.
type Writer struct {
	cfg      Config
	sameSite http.SameSite
}

// NewWriter validates cfg and returns a Writer.
func NewWriter(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, sameSite: parseSameSite(cfg.SameSite)}, nil
}

// Set writes value with an absolute expiry and a Max-Age measured from now.
func (w *Writer) Set(rw http.ResponseWriter, value string, expiresAt, now time.Time) {
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		w.Clear(rw)
		return
	}
	http.SetCookie(rw, &http.Cookie{
		Name:     w.cfg.Name,
		Value:    value,
		Path:     w.cfg.Path,
		Domain:   w.cfg.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   w.cfg.Secure,
		SameSite: w.sameSite,
	})
}

// Clear instructs the client to drop the cookie.
func (w *Writer) Clear(rw http.ResponseWriter) {
	http.SetCookie(rw, &http.Cookie{
		Name:     w.cfg.Name,
		Value:    "",
		Path:     w.cfg.Path,
		Domain:   w.cfg.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   w.cfg.Secure,
		SameSite: w.sameSite,
	})
}

func parseSameSite(mode string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
