package tenant

import (
	"regexp"
	"strings"
)

var (
	identPattern     = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	illegalRunes     = regexp.MustCompile(`[^a-z0-9_]`)
	repeatUnderscore = regexp.MustCompile(`_+`)
)

// IsValidIdentifier reports whether name is safe to interpolate into SQL as a
// schema, table, or column identifier. Identifier interpolation anywhere in
// this codebase must be guarded by this check, since identifiers cannot be
// bound as query parameters.
func IsValidIdentifier(name string) bool {
	return name != "" && len(name) <= MaxIdentifierLength && identPattern.MatchString(name)
}

// Sanitize normalizes a user-provided name into a valid SQL identifier:
// trimmed, lowercased, spaces to underscores, everything else dropped. The
// result always matches ^[a-z][a-z0-9_]*$ and fits the identifier ceiling, or
// a ValidationError is returned; a violating string is never handed back.
func Sanitize(name string) (string, error) {
	cleaned := normalize(name)
	if cleaned == "" {
		return "", &ValidationError{Field: "name", Reason: "empty after sanitization"}
	}
	if cleaned[0] < 'a' || cleaned[0] > 'z' {
		return "", &ValidationError{Field: "name", Reason: "must start with a letter"}
	}
	if len(cleaned) > MaxIdentifierLength {
		return "", &ValidationError{Field: "name", Reason: "longer than 63 characters after sanitization"}
	}
	return cleaned, nil
}

// SanitizeColumn is the total variant used for ingested column headers:
// empty names become a placeholder and numeric-leading names get a prefix
// instead of failing, since uploads should not be rejected over a header.
func SanitizeColumn(name string) string {
	cleaned := normalize(name)
	if cleaned == "" {
		return "unnamed_column"
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "col_" + cleaned
	}
	if len(cleaned) > MaxIdentifierLength {
		cleaned = cleaned[:MaxIdentifierLength]
	}
	return cleaned
}

// SanitizeTable is the total variant for ingested table names.
func SanitizeTable(name string) string {
	cleaned := normalize(name)
	if cleaned == "" {
		return "data_table"
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "table_" + cleaned
	}
	if len(cleaned) > MaxIdentifierLength {
		cleaned = cleaned[:MaxIdentifierLength]
	}
	return cleaned
}

func normalize(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = illegalRunes.ReplaceAllString(cleaned, "")
	cleaned = repeatUnderscore.ReplaceAllString(cleaned, "_")
	return strings.Trim(cleaned, "_")
}
