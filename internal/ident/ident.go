// Package ident guards every identifier interpolated into SQL. Callers must
// validate names here before composing DDL or DML strings and reject the
// operation when validation fails.
package ident

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

const MaxNameLength = 63

var (
	tableNameRe  = regexp.MustCompile(`^dt_[0-9a-f]{12}_[0-9a-f]{16}$`)
	columnNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	slugStripRe  = regexp.MustCompile(`[^a-z0-9]+`)
)

// System columns present on every physical table.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColCreatedBy = "created_by"
)

var SystemColumns = []string{ColID, ColCreatedAt, ColUpdatedAt, ColCreatedBy}

var reserved = map[string]struct{}{
	"all": {}, "alter": {}, "analyse": {}, "analyze": {}, "and": {}, "any": {}, "array": {},
	"as": {}, "asc": {}, "between": {}, "both": {}, "by": {}, "case": {}, "cast": {},
	"check": {}, "collate": {}, "column": {}, "constraint": {}, "create": {}, "cross": {},
	"current_date": {}, "current_time": {}, "current_timestamp": {}, "current_user": {},
	"default": {}, "delete": {}, "desc": {}, "distinct": {}, "do": {}, "drop": {},
	"else": {}, "end": {}, "except": {}, "exists": {}, "false": {}, "fetch": {}, "for": {},
	"foreign": {}, "from": {}, "full": {}, "grant": {}, "group": {}, "having": {}, "in": {},
	"index": {}, "inner": {}, "insert": {}, "intersect": {}, "into": {}, "is": {}, "join": {},
	"key": {}, "leading": {}, "left": {}, "like": {}, "limit": {}, "natural": {}, "not": {},
	"null": {}, "offset": {}, "on": {}, "only": {}, "or": {}, "order": {}, "outer": {},
	"primary": {}, "references": {}, "returning": {}, "revoke": {}, "right": {}, "schema": {},
	"select": {}, "session_user": {}, "set": {}, "some": {}, "table": {}, "then": {}, "to": {},
	"trailing": {}, "true": {}, "union": {}, "unique": {}, "update": {}, "user": {},
	"using": {}, "values": {}, "when": {}, "where": {}, "window": {}, "with": {},
}

// IsReserved reports whether s is a reserved SQL keyword.
func IsReserved(s string) bool {
	_, ok := reserved[strings.ToLower(s)]
	return ok
}

// IsValidTableName reports whether s is a generated physical table name.
func IsValidTableName(s string) bool {
	return tableNameRe.MatchString(s)
}

// IsValidColumnName reports whether s is a safe column identifier.
func IsValidColumnName(s string) bool {
	return len(s) <= MaxNameLength && columnNameRe.MatchString(s) && !IsReserved(s)
}

// IsSystemColumn reports whether s names a protected system column.
func IsSystemColumn(s string) bool {
	for _, c := range SystemColumns {
		if c == s {
			return true
		}
	}
	return false
}

// Quote double-quotes an identifier. It does not validate.
func Quote(s string) string {
	return pq.QuoteIdentifier(s)
}

// QuoteTable validates and quotes a physical table name.
func QuoteTable(s string) (string, error) {
	if !IsValidTableName(s) {
		return "", fmt.Errorf("invalid table name %q", s)
	}
	return pq.QuoteIdentifier(s), nil
}

// QuoteColumn validates and quotes a column name. System columns are allowed.
func QuoteColumn(s string) (string, error) {
	if !IsSystemColumn(s) && !IsValidColumnName(s) {
		return "", fmt.Errorf("invalid column name %q", s)
	}
	return pq.QuoteIdentifier(s), nil
}

// Slugify derives a column name from a display label, e.g. "Due Date" -> "due_date".
// The result still has to pass IsValidColumnName.
func Slugify(label string) string {
	s := slugStripRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "f_" + s
	}
	if IsReserved(s) || IsSystemColumn(s) {
		s += "_field"
	}
	if len(s) > MaxNameLength {
		s = strings.TrimRight(s[:MaxNameLength], "_")
	}
	return s
}
