package sqlident

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// MaxIdentifierLength matches the tightest limit across supported dialects
// (SQL Server sysname is 128 characters).
const MaxIdentifierLength = 128

// CheckIdentifier validates a value that will be interpolated into DDL as an
// identifier (principal name, database name, schema name). GRANT, REVOKE and
// CREATE USER statements cannot take identifiers as bind parameters, so every
// identifier is checked here before any inspector builds a statement from it.
//
// Returns nil if the value is safe to quote and interpolate.
func CheckIdentifier(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if len(value) > MaxIdentifierLength {
		return fmt.Errorf("%s exceeds %d characters", name, MaxIdentifierLength)
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return fmt.Errorf("%s contains control characters", name)
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return fmt.Errorf("%s %q rejected: SQL injection pattern detected (fingerprint %s)", name, value, fingerprint)
	}

	return nil
}
