// Package sqlscript splits generated DDL scripts into statements and guards
// the read-only query escape hatch.
package sqlscript

import (
	"bufio"
	"strings"
	"unicode"
)

// SplitStatements splits a semicolon-terminated script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(script string) []string {
	scanner := bufio.NewScanner(strings.NewReader(script))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

var readVerbs = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"EXPLAIN": true,
	"SHOW":    true,
}

var writeWords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"REPLACE":  true,
	"MERGE":    true,
	"UPSERT":   true,
	"CREATE":   true,
	"ALTER":    true,
	"DROP":     true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"ATTACH":   true,
	"DETACH":   true,
	"VACUUM":   true,
	"REINDEX":  true,
	"COPY":     true,
	"CALL":     true,
	"INTO":     true,
	"LOCK":     true,
}

// sideEffects are functions that change state even when called from a SELECT.
var sideEffects = map[string]bool{
	"SETVAL":                true,
	"NEXTVAL":               true,
	"SET_CONFIG":            true,
	"LO_IMPORT":             true,
	"LO_EXPORT":             true,
	"LO_UNLINK":             true,
	"LO_CREATE":             true,
	"LO_PUT":                true,
	"DBLINK_EXEC":           true,
	"PG_TERMINATE_BACKEND":  true,
	"PG_CANCEL_BACKEND":     true,
	"PG_RELOAD_CONF":        true,
	"PG_ROTATE_LOGFILE":     true,
	"PG_ADVISORY_LOCK":      true,
	"PG_ADVISORY_XACT_LOCK": true,
	"PG_NOTIFY":             true,
	"LOAD_EXTENSION":        true,
	"WRITEFILE":             true,
}

// IsReadOnly reports whether query is a single statement that only reads.
// Words inside string literals and quoted identifiers are ignored. Dollar
// quoted bodies and known side effecting functions are refused.
//
// The check is a first filter; callers still run the query where the
// database itself refuses writes.
func IsReadOnly(query string) bool {
	words, ok := scanWords(query)
	if !ok || len(words) == 0 {
		return false
	}
	if !readVerbs[words[0]] {
		return false
	}
	for _, w := range words[1:] {
		if writeWords[w] || sideEffects[w] {
			return false
		}
	}
	return true
}

// scanWords returns the upper-cased bare words of query. It reports false
// when query holds more than one statement or a dollar sign outside quotes.
func scanWords(query string) ([]string, bool) {
	var (
		words []string
		word  strings.Builder
		quote rune
		ended bool
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}
	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			flush()
			quote = c
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(runes) && (runes[i] != '*' || runes[i+1] != '/') {
				i++
			}
			i++
		case c == '$':
			return words, false
		case c == ';':
			flush()
			ended = true
		case unicode.IsLetter(c) || c == '_' || (word.Len() > 0 && unicode.IsDigit(c)):
			if ended {
				return words, false
			}
			word.WriteRune(c)
		default:
			if ended && !unicode.IsSpace(c) {
				return words, false
			}
			flush()
		}
	}
	flush()
	return words, true
}
