package logging

import (
	"regexp"
)

const (
	// MaxStatementLogLength is the maximum length of a SQL statement to log
	MaxStatementLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Pattern to match secret references in integration configs (env://VAR)
	secretRefPattern = regexp.MustCompile(`env://[A-Za-z_][A-Za-z0-9_]*`)
)

// SanitizeConnectionString removes sensitive data from connection strings
// before they are logged. Integration configs hold live database credentials,
// so every connection string that reaches a log line goes through here.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Driver errors from target databases can echo the connection string back,
// so inspection errors are sanitized before being cached or logged.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = secretRefPattern.ReplaceAllString(sanitized, RedactedText)

	return sanitized
}

// SanitizeStatement truncates a SQL statement for logging. GRANT/REVOKE
// statements carry no secrets, but CREATE USER ... WITH PASSWORD does.
func SanitizeStatement(stmt string) string {
	if stmt == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(stmt, "${1}="+RedactedText)
	sanitized = pwClausePattern.ReplaceAllString(sanitized, "${1}"+RedactedText)

	if len(sanitized) > MaxStatementLogLength {
		sanitized = sanitized[:MaxStatementLogLength] + "..."
	}

	return sanitized
}

// Pattern to match PASSWORD 'xxx' / PASSWORD = 'xxx' clauses in DDL
var pwClausePattern = regexp.MustCompile(`(?i)(PASSWORD\s*=?\s*)'[^']*'`)
