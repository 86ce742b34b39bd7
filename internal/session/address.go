package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadAddress is wrapped by every address parse failure.
var ErrBadAddress = errors.New("malformed node address")

// Address is a namespace-qualified point identifier: ns=<n>;i=<number> or ns=<n>;s=<text>.
type Address struct {
	Namespace uint16
	Numeric   uint32
	Text      string
	IsNumeric bool
}

// ParseAddress parses the catalog address notation. String identifiers are
// kept verbatim, including any quotes (S7 symbolic names are quoted).
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	nsPart, idPart, ok := strings.Cut(s, ";")
	if !ok || !strings.HasPrefix(nsPart, "ns=") {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	ns, err := strconv.ParseUint(strings.TrimPrefix(nsPart, "ns="), 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: namespace in %q", ErrBadAddress, s)
	}

	kind, id, ok := strings.Cut(idPart, "=")
	if !ok || id == "" {
		return Address{}, fmt.Errorf("%w: identifier in %q", ErrBadAddress, s)
	}
	a := Address{Namespace: uint16(ns)}
	switch kind {
	case "i":
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("%w: numeric identifier in %q", ErrBadAddress, s)
		}
		a.Numeric = uint32(n)
		a.IsNumeric = true
	case "s":
		a.Text = id
	default:
		return Address{}, fmt.Errorf("%w: identifier type %q in %q", ErrBadAddress, kind, s)
	}
	return a, nil
}

func (a Address) String() string {
	if a.IsNumeric {
		return fmt.Sprintf("ns=%d;i=%d", a.Namespace, a.Numeric)
	}
	return fmt.Sprintf("ns=%d;s=%s", a.Namespace, a.Text)
}
