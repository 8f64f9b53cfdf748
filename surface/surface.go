// Package surface provides addressing for personalization targets within a
// host application. A surface canonicalizes an app-scoped path into a stable
// URI of the form "mobileapp://<appID>[/<path>]" used as the scope of
// propositions and as the key for cached content.
package surface

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Scheme is the URI scheme for application surfaces.
const Scheme = "mobileapp://"

// unknownURI is the URI assigned when the application identifier is unavailable.
const unknownURI = "unknown"

// Surface identifies an addressable location within the host app that
// personalization content targets. Surfaces are immutable after construction;
// equality is by URI.
type Surface struct {
	uri   string
	valid bool
}

// New builds a surface for the given application identifier and optional path
// segments. An empty appID yields an invalid surface with URI "unknown".
// A surface is valid iff its composed URI contains only letters, digits,
// '/', '.', '_', '-' and ':'.
func New(appID string, path ...string) Surface {
	if appID == "" {
		return Surface{uri: unknownURI, valid: false}
	}

	uri := Scheme + appID
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		uri += "/" + p
	}

	return Surface{uri: uri, valid: validURI(uri)}
}

// FromURI reconstructs a surface from a previously composed URI, typically a
// proposition scope received from the backend. Validation is re-applied.
func FromURI(uri string) Surface {
	if uri == "" || uri == unknownURI {
		return Surface{uri: unknownURI, valid: false}
	}
	if !strings.HasPrefix(uri, Scheme) {
		return Surface{uri: uri, valid: false}
	}
	return Surface{uri: uri, valid: validURI(uri)}
}

// URI returns the composed surface URI.
func (s Surface) URI() string {
	return s.uri
}

// Valid reports whether the surface passed character validation. Validity does
// not depend on whether the surface currently has cached content.
func (s Surface) Valid() bool {
	return s.valid
}

// Equal reports whether two surfaces address the same location.
func (s Surface) Equal(other Surface) bool {
	return s.uri == other.uri
}

// Hash returns a short content hash of the URI, used as a filesystem-safe
// storage key component.
func (s Surface) Hash() string {
	sum := sha256.Sum256([]byte(s.uri))
	return hex.EncodeToString(sum[:8])
}

// String implements fmt.Stringer.
func (s Surface) String() string {
	return s.uri
}

// validURI checks the restricted character set for surface URIs.
func validURI(uri string) bool {
	for _, r := range uri {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '/' || r == '.' || r == '_' || r == '-' || r == ':':
		default:
			return false
		}
	}
	return true
}
