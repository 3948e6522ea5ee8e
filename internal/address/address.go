// Package address defines the identifier of a metric source endpoint.
// An Address is a comparable value: it is used as a map key, for display,
// and to make sure only one source instance exists per endpoint.
package address

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocols understood by Parse.
const (
	ProtocolLocal = "local"
	ProtocolJMX   = "jmx"
	ProtocolJBoss = "jboss"
)

// Address identifies a metric source endpoint, e.g. the local OS, a JMX
// (Jolokia) agent at host:port or a remote management controller.
type Address struct {
	Protocol string
	Username string
	Host     string
	Port     int
}

// Local returns the address of the local operating system.
func Local() Address {
	return Address{Protocol: ProtocolLocal}
}

// IsLocal reports whether the address designates the local OS.
func (a Address) IsLocal() bool {
	return a.Protocol == ProtocolLocal
}

// IsZero reports whether the address was never set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// HostPort returns "host:port", or just the host when no port is set.
func (a Address) HostPort() string {
	if a.Port == 0 {
		return a.Host
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Literal renders the address in its stable string form:
// "local" for the local OS, "protocol://[user@]host[:port]" otherwise.
func (a Address) Literal() string {
	if a.IsLocal() {
		return ProtocolLocal
	}
	var b strings.Builder
	b.WriteString(a.Protocol)
	b.WriteString("://")
	if a.Username != "" {
		b.WriteString(a.Username)
		b.WriteByte('@')
	}
	b.WriteString(a.HostPort())
	return b.String()
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Literal()
}

// Parse converts a literal produced by Literal back into an Address.
// A literal without "://" is accepted only for the local OS.
func Parse(literal string) (Address, error) {
	s := strings.TrimSpace(literal)
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	if strings.EqualFold(s, ProtocolLocal) {
		return Local(), nil
	}

	protocol, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Address{}, fmt.Errorf("invalid address %q: missing protocol", literal)
	}
	protocol = strings.ToLower(protocol)
	if protocol == "" {
		return Address{}, fmt.Errorf("invalid address %q: missing protocol", literal)
	}

	// trailing path segments are not part of the endpoint identity
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}

	a := Address{Protocol: protocol}
	if user, hostPort, found := strings.Cut(rest, "@"); found {
		// credentials never live in the address; drop an inline password
		user, _, _ = strings.Cut(user, ":")
		a.Username = user
		rest = hostPort
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		// no port
		a.Host = strings.Trim(rest, "[]")
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Address{}, fmt.Errorf("invalid address %q: bad port %q", literal, port)
		}
		a.Host = host
		a.Port = p
	}
	if a.Host == "" {
		return Address{}, fmt.Errorf("invalid address %q: missing host", literal)
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level defaults.
func MustParse(literal string) Address {
	a, err := Parse(literal)
	if err != nil {
		panic(err)
	}
	return a
}
