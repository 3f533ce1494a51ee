// Package sqlguard is the static safety gate for generated SQL. It is a
// deny-list over a light tokenization, not a parser: it rejects mutating
// keywords, tables outside the caller's permission set and common injection
// fragments.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edusql/edusql/internal/permission"
)

type Rule string

const (
	RuleEmpty       Rule = "empty_statement"
	RuleDenyKeyword Rule = "deny_keyword"
	RuleInjection   Rule = "injection_pattern"
	RuleReadOnly    Rule = "read_only"
	RuleTableScope  Rule = "table_scope"
)

// DeniedKeywords are rejected anywhere outside string literals.
var DeniedKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "TRUNCATE",
	"EXEC", "EXECUTE", "DECLARE", "SCRIPT",
	"GRANT", "REVOKE", "MERGE", "ATTACH", "COPY", "INTO",
}

var (
	deniedKeywordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(DeniedKeywords, "|") + `)\b`)
	numericTautology     = regexp.MustCompile(`(?i)\bOR\s+(\d+)\s*=\s*(\d+)`)
	stringTautology      = regexp.MustCompile(`(?i)\bOR\s+'([^']*)'\s*=\s*'([^']*)'`)
	literalTrue          = regexp.MustCompile(`(?i)\bOR\s+TRUE\b`)
	stackedStatement     = regexp.MustCompile(`;\s*\w`)
)

var commentTokens = []string{"--", "#", "/*"}

type Result struct {
	Valid  bool   `json:"is_valid"`
	SQL    string `json:"sql,omitempty"`
	Reason string `json:"error_reason,omitempty"`
	Rule   Rule   `json:"rule,omitempty"`
}

// Err returns the Violation for an invalid result, nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Violation{Rule: r.Rule, Reason: r.Reason}
}

type Violation struct {
	Rule   Rule
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("sql rejected (%s): %s", v.Rule, v.Reason)
}

// Validate runs every rule against sql for a caller holding permitted.
func Validate(sql string, permitted permission.TableSet) Result {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return reject(RuleEmpty, "statement is empty")
	}
	tokens := tokenize(sql)
	stripped := strippedText(tokens)

	if match := deniedKeywordPattern.FindString(stripped); match != "" {
		return reject(RuleDenyKeyword, "forbidden keyword "+strings.ToUpper(match))
	}
	if reason := injectionReason(sql, stripped); reason != "" {
		return reject(RuleInjection, reason)
	}
	if !readOnlyStatement(tokens) {
		return reject(RuleReadOnly, "only read-only SELECT/WITH statements are allowed")
	}
	if !permitted.IsWildcard() {
		if reason := scopeViolation(tableSources(tokens), permitted); reason != "" {
			return reject(RuleTableScope, reason)
		}
	}
	return Result{Valid: true, SQL: sql}
}

// Schema prefixes that name the connection's own schema.
var currentSchemas = map[string]bool{"public": true, "main": true}

func scopeViolation(sources []tableSource, permitted permission.TableSet) string {
	for _, src := range sources {
		switch {
		case src.kind == sourceLiteral:
			return "literal table source " + src.raw + " is not allowed"
		case len(src.qualifier) > 1 || (len(src.qualifier) == 1 && !currentSchemas[src.qualifier[0]]):
			return "table outside the current schema is not allowed: " + src.raw
		case !permitted.Allows(src.name):
			return "no permission for table " + src.name
		}
	}
	return ""
}

func reject(rule Rule, reason string) Result {
	return Result{Valid: false, Reason: reason, Rule: rule}
}

func injectionReason(raw, stripped string) string {
	for _, m := range numericTautology.FindAllStringSubmatch(stripped, -1) {
		if m[1] == m[2] {
			return "tautology pattern " + m[0]
		}
	}
	for _, m := range stringTautology.FindAllStringSubmatch(raw, -1) {
		if m[1] == m[2] {
			return "tautology pattern " + m[0]
		}
	}
	if match := literalTrue.FindString(stripped); match != "" {
		return "tautology pattern " + match
	}
	if stackedStatement.MatchString(stripped) {
		return "multiple statements are not allowed"
	}
	for _, token := range commentTokens {
		if strings.Contains(stripped, token) {
			return "comment token " + token + " is not allowed"
		}
	}
	return ""
}

func readOnlyStatement(tokens []token) bool {
	for _, tok := range tokens {
		if tok.kind == tokenPunct && tok.text == "(" {
			continue
		}
		keyword := tok.upper()
		return tok.kind == tokenWord && (keyword == "SELECT" || keyword == "WITH")
	}
	return false
}
