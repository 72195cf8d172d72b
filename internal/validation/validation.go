// Package validation provides centralized input validation for timering.
package validation

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// StreamNameRules returns the rules for stream names. Stream names are
// embedded in export file names, where '_' separates the fields, so only
// ASCII letters, digits, dots and hyphens are allowed.
func StreamNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  false,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.':
		return rules.AllowDots
	case r == '-':
		return rules.AllowHyphens
	case r == '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateStreamName validates a stream name with StreamNameRules.
func ValidateStreamName(name string) error {
	return ValidateName(name, StreamNameRules())
}

// =============================================================================
// Address Validation
// =============================================================================

// ValidateListenAddress checks a host:port listen address. The host may be
// empty (all interfaces); port 0 picks a free port.
func ValidateListenAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address %q: %w", addr, err)
	}
	if strings.ContainsAny(host, " \t") {
		return fmt.Errorf("address %q: host contains whitespace", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		if _, lerr := net.LookupPort("tcp", port); lerr != nil {
			return fmt.Errorf("address %q: unknown port %q", addr, port)
		}
		return nil
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("address %q: port out of range", addr)
	}
	return nil
}
