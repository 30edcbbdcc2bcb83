// Package credential handles the opaque account credential: a marketplace
// cookie header ("k1=v1; k2=v2").
package credential

import (
	"bytes"
	"errors"
	"strings"
)

// IdentityCookie carries the platform's stable user id.
const IdentityCookie = "unb"

var ErrNoIdentity = errors.New("credential carries no identity cookie")

// Blob is the stored credential. Its contents are never logged.
type Blob []byte

func FromString(s string) Blob {
	return Blob(strings.TrimSpace(s))
}

func (b Blob) Empty() bool {
	return len(bytes.TrimSpace(b)) == 0
}

// Equal compares byte for byte.
func (b Blob) Equal(other Blob) bool {
	return bytes.Equal(b, other)
}

// String redacts the value so a Blob is safe to pass to a logger.
func (b Blob) String() string {
	if len(b) == 0 {
		return "<empty>"
	}
	return "<redacted>"
}

// Raw returns the cookie header text.
func (b Blob) Raw() string {
	return string(b)
}

// Cookies parses the blob as a cookie header. Malformed pairs are skipped;
// the last occurrence of a name wins.
func (b Blob) Cookies() map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(string(b), ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// Identity returns the remote account identity embedded in the credential.
func (b Blob) Identity() (string, error) {
	if v := b.Cookies()[IdentityCookie]; v != "" {
		return v, nil
	}
	return "", ErrNoIdentity
}
