// Package identity defines the four-part key that names every component.
//
// An Identity renders as "domain.namespace.group.name". The domain is the
// component kind (services, prompts, codecs, schemas, handlers); the remaining
// three parts are chosen by whoever defines the component. Identities are
// plain comparable values and are used directly as map keys in every registry.
package identity

import (
	"fmt"
	"strings"
)

// Component kinds. Each registry is keyed by identities of one domain.
const (
	DomainService = "services"
	DomainPrompt  = "prompts"
	DomainCodec   = "codecs"
	DomainSchema  = "schemas"
	DomainHandler = "handlers"
)

// CoreNamespace is the namespace of framework-provided components and of
// fallbacks that apply regardless of the caller's namespace.
const CoreNamespace = "core"

// Identity is an immutable (domain, namespace, group, name) tuple.
type Identity struct {
	Domain    string
	Namespace string
	Group     string
	Name      string
}

// ParseError reports a malformed identity string.
type ParseError struct {
	Input   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid identity %q: %s", e.Input, e.Message)
}

// New builds an Identity after checking every part.
func New(domain, namespace, group, name string) (Identity, error) {
	id := Identity{Domain: domain, Namespace: namespace, Group: group, Name: name}
	if err := id.validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Must is like New but panics on error. Use for identities known at compile time.
func Must(domain, namespace, group, name string) Identity {
	id, err := New(domain, namespace, group, name)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse parses a dotted "domain.namespace.group.name" string.
func Parse(s string) (Identity, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Identity{}, &ParseError{Input: s, Message: fmt.Sprintf("expected 4 dot-separated parts, got %d", len(parts))}
	}
	id := Identity{Domain: parts[0], Namespace: parts[1], Group: parts[2], Name: parts[3]}
	if err := id.validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// ParseIn parses s as an identity of the given domain. The three-part form
// "namespace.group.name" is accepted and takes the domain implicitly; a
// four-part string must name the same domain.
func ParseIn(domain, s string) (Identity, error) {
	if strings.Count(s, ".") == 2 {
		return Parse(domain + "." + s)
	}
	id, err := Parse(s)
	if err != nil {
		return Identity{}, err
	}
	if id.Domain != domain {
		return Identity{}, &ParseError{Input: s, Message: fmt.Sprintf("domain %q, want %q", id.Domain, domain)}
	}
	return id, nil
}

// String renders the identity in dotted form.
func (id Identity) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Domain + "." + id.Namespace + "." + id.Group + "." + id.Name
}

// Tail renders namespace.group.name without the domain.
func (id Identity) Tail() string {
	if id.IsZero() {
		return ""
	}
	return id.Namespace + "." + id.Group + "." + id.Name
}

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// In returns the same namespace/group/name re-homed into another domain.
// A service "services.chat.patient.initial" has the identity-matched schema
// In(DomainSchema) = "schemas.chat.patient.initial".
func (id Identity) In(domain string) Identity {
	id.Domain = domain
	return id
}

// Compare orders identities by their dotted rendering.
func (id Identity) Compare(other Identity) int {
	return strings.Compare(id.String(), other.String())
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// zero Identity.
func (id *Identity) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = Identity{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id Identity) validate() error {
	for _, p := range []struct{ label, v string }{
		{"domain", id.Domain},
		{"namespace", id.Namespace},
		{"group", id.Group},
		{"name", id.Name},
	} {
		if p.v == "" {
			return &ParseError{Input: id.raw(), Message: p.label + " is empty"}
		}
		for i := 0; i < len(p.v); i++ {
			if !validPartByte(p.v[i]) {
				return &ParseError{Input: id.raw(), Message: fmt.Sprintf("%s contains invalid character %q", p.label, p.v[i])}
			}
		}
	}
	return nil
}

func (id Identity) raw() string {
	return id.Domain + "." + id.Namespace + "." + id.Group + "." + id.Name
}

// validPartByte allows ASCII letters, digits, '_' and '-'. Dots are separators.
func validPartByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}
