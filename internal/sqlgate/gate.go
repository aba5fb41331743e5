// Package sqlgate is the safety gate every generated statement passes before
// execution. It is deliberately over-strict: a rejected legitimate query
// costs one retry, an admitted write is unrecoverable.
package sqlgate

import (
	"fmt"
	"regexp"
	"strings"
)

// deniedKeywords cover every mutating or procedural verb; matches are
// word-bounded so column names like created_at never trip the gate.
var deniedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL", "MERGE", "REPLACE",
}

var (
	deniedPattern  = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)
	literalPattern = regexp.MustCompile(`'[^']*'`)
)

// Validate reports whether the statement is admissible and, when it is not,
// a reason suitable for showing to the user.
func Validate(statement string) (bool, string) {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return false, "empty SQL statement"
	}

	body := stripLeadingComments(trimmed)
	if !strings.HasPrefix(strings.ToUpper(body), "SELECT") {
		return false, "only SELECT statements are allowed"
	}

	if match := deniedPattern.FindString(body); match != "" {
		return false, fmt.Sprintf("statement contains forbidden keyword %q", strings.ToUpper(match))
	}

	// String literals may legitimately contain semicolons; blank them out
	// before counting statement separators.
	withoutLiterals := literalPattern.ReplaceAllString(body, "''")
	if strings.Count(withoutLiterals, ";") > 1 {
		return false, "multiple SQL statements are not allowed"
	}

	return true, ""
}

func stripLeadingComments(statement string) string {
	lines := strings.Split(statement, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		return strings.TrimSpace(strings.Join(lines[i:], "\n"))
	}
	return ""
}
