package sqlguard

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenLiteral
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

func (t token) is(keyword string) bool {
	return t.kind == tokenWord && strings.EqualFold(t.text, keyword)
}

// tokenize splits sql into words (identifiers and keywords, including quoted and
// dotted forms), single-quoted literals and single punctuation characters.
func tokenize(sql string) []token {
	runes := []rune(sql)
	tokens := make([]token, 0, len(runes)/3)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'':
			j := i + 1
			for j < len(runes) {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := j + 1
			if end > len(runes) {
				end = len(runes)
			}
			tokens = append(tokens, token{kind: tokenLiteral, text: string(runes[i:end])})
			i = end
		case isWordStart(r):
			j := i
			for j < len(runes) && isWordRune(runes[j]) {
				if closer, ok := quoteCloser(runes[j]); ok {
					k := j + 1
					for k < len(runes) && runes[k] != closer {
						k++
					}
					j = k + 1
					continue
				}
				j++
			}
			if j > len(runes) {
				j = len(runes)
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[i:j])})
			i = j
		case i+1 < len(runes) && isCommentPair(r, runes[i+1]):
			tokens = append(tokens, token{kind: tokenPunct, text: string(runes[i : i+2])})
			i += 2
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens
}

func isCommentPair(a, b rune) bool {
	return (a == '-' && b == '-') || (a == '/' && b == '*') || (a == '*' && b == '/')
}

func isWordStart(r rune) bool {
	_, quoted := quoteCloser(r)
	return quoted || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordRune(r rune) bool {
	return isWordStart(r) || r == '.' || r == '$'
}

func quoteCloser(r rune) (rune, bool) {
	switch r {
	case '"':
		return '"', true
	case '`':
		return '`', true
	case '[':
		return ']', true
	default:
		return 0, false
	}
}

// strippedText rebuilds the statement with literal contents blanked, so rules
// never match inside string values.
func strippedText(tokens []token) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.kind == tokenLiteral {
			parts = append(parts, "''")
			continue
		}
		parts = append(parts, tok.text)
	}
	return strings.Join(parts, " ")
}

// Functions whose argument syntax uses FROM without naming a table.
var fromArgumentFunctions = map[string]bool{
	"EXTRACT":   true,
	"SUBSTRING": true,
	"TRIM":      true,
	"OVERLAY":   true,
	"POSITION":  true,
}

var clauseKeywords = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "OUTER": true, "NATURAL": true, "ON": true, "USING": true,
	"UNION": true, "INTERSECT": true, "EXCEPT": true, "WINDOW": true,
	"OFFSET": true, "FETCH": true, "QUALIFY": true, "LATERAL": true,
}

type sourceKind int

const (
	sourceTable sourceKind = iota
	sourceFunction
	sourceLiteral
)

// tableSource is one item of a FROM or JOIN list. Qualifier holds any schema
// or database prefix, normalized.
type tableSource struct {
	kind      sourceKind
	name      string
	qualifier []string
	raw       string
}

func (s tableSource) key() string {
	return strconv.Itoa(int(s.kind)) + ":" + strings.Join(append(append([]string(nil), s.qualifier...), s.name), ".")
}

// ReferencedTables returns every plain table named as a FROM or JOIN source,
// normalized and deduplicated. Derived tables are skipped and CTE names are
// exempt once their definition has closed.
func ReferencedTables(tokens []token) []string {
	var out []string
	for _, src := range tableSources(tokens) {
		if src.kind == sourceTable {
			out = append(out, src.name)
		}
	}
	return out
}

// tableSources walks every FROM and JOIN list, including parenthesized join
// groups and comma items that follow an ON or USING clause.
func tableSources(tokens []token) []tableSource {
	sc := &sourceScanner{tokens: tokens, ctes: cteScopes(tokens), seen: map[string]struct{}{}}
	var parens []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.kind == tokenPunct {
			switch tok.text {
			case "(":
				prev := ""
				if i > 0 && tokens[i-1].kind == tokenWord {
					prev = tokens[i-1].upper()
				}
				parens = append(parens, prev)
			case ")":
				if len(parens) > 0 {
					parens = parens[:len(parens)-1]
				}
			}
			continue
		}
		if tok.is("JOIN") {
			sc.rest(sc.condition(sc.item(i + 1)))
			continue
		}
		if !tok.is("FROM") {
			continue
		}
		if len(parens) > 0 && fromArgumentFunctions[parens[len(parens)-1]] {
			continue
		}
		if i > 0 && tokens[i-1].is("DISTINCT") {
			continue
		}
		sc.rest(sc.item(i + 1))
	}
	return sc.sources
}

type sourceScanner struct {
	tokens  []token
	ctes    map[string]int
	seen    map[string]struct{}
	sources []tableSource
}

func (sc *sourceScanner) punct(i int, text string) bool {
	return i < len(sc.tokens) && sc.tokens[i].kind == tokenPunct && sc.tokens[i].text == text
}

func (sc *sourceScanner) word(i int, keyword string) bool {
	return i < len(sc.tokens) && sc.tokens[i].is(keyword)
}

// joinWord reports whether the token at i belongs to a join operator. LEFT and
// RIGHT followed by "(" are string functions.
func (sc *sourceScanner) joinWord(i int) bool {
	if i >= len(sc.tokens) || sc.tokens[i].kind != tokenWord {
		return false
	}
	switch sc.tokens[i].upper() {
	case "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "OUTER", "NATURAL":
		return !sc.punct(i+1, "(")
	}
	return false
}

// rest continues a source list after an item: comma items and join items
// until the list ends.
func (sc *sourceScanner) rest(i int) int {
	for i < len(sc.tokens) {
		switch {
		case sc.punct(i, ","):
			i = sc.item(i + 1)
		case sc.joinWord(i):
			for i < len(sc.tokens) && sc.joinWord(i) && !sc.word(i, "JOIN") {
				i++
			}
			if !sc.word(i, "JOIN") {
				return i
			}
			i = sc.condition(sc.item(i + 1))
		default:
			return i
		}
	}
	return i
}

// item reads one source with its optional alias and returns the index after it.
func (sc *sourceScanner) item(i int) int {
	for sc.word(i, "LATERAL") || sc.word(i, "ONLY") {
		i++
	}
	if i >= len(sc.tokens) {
		return i
	}
	tok := sc.tokens[i]
	switch {
	case tok.kind == tokenPunct && tok.text == "(":
		closing := matchingParen(sc.tokens, i)
		if !sc.word(i+1, "SELECT") && !sc.word(i+1, "WITH") && !sc.word(i+1, "VALUES") {
			sc.rest(sc.item(i + 1))
		}
		i = closing + 1
	case tok.kind == tokenLiteral:
		sc.add(i, tableSource{kind: sourceLiteral, name: tok.text, raw: tok.text})
		i++
	case tok.kind == tokenWord && !clauseKeywords[tok.upper()]:
		parts := splitQualified(tok.text)
		src := tableSource{kind: sourceTable, name: parts[len(parts)-1], qualifier: parts[:len(parts)-1], raw: tok.text}
		i++
		if sc.punct(i, "(") {
			src.kind = sourceFunction
			i = matchingParen(sc.tokens, i) + 1
		}
		sc.add(i-1, src)
	default:
		return i
	}
	return sc.alias(i)
}

func (sc *sourceScanner) alias(i int) int {
	if sc.word(i, "AS") {
		i++
	}
	if i < len(sc.tokens) && sc.tokens[i].kind == tokenWord && !clauseKeywords[sc.tokens[i].upper()] {
		i++
		if sc.punct(i, "(") {
			i = matchingParen(sc.tokens, i) + 1
		}
	}
	return i
}

// condition skips an ON expression or USING column list after a join item.
func (sc *sourceScanner) condition(i int) int {
	if sc.word(i, "USING") && sc.punct(i+1, "(") {
		return matchingParen(sc.tokens, i+1) + 1
	}
	if !sc.word(i, "ON") {
		return i
	}
	for i++; i < len(sc.tokens); i++ {
		tok := sc.tokens[i]
		switch {
		case tok.kind == tokenPunct && tok.text == "(":
			i = matchingParen(sc.tokens, i)
		case tok.kind == tokenPunct && (tok.text == "," || tok.text == ")"):
			return i
		case sc.joinWord(i):
			return i
		case tok.kind == tokenWord && clauseKeywords[tok.upper()] && tok.upper() != "ON" && tok.upper() != "USING":
			return i
		}
	}
	return i
}

func (sc *sourceScanner) add(idx int, src tableSource) {
	if src.name == "" {
		return
	}
	if closed, ok := sc.ctes[src.name]; ok && src.kind == sourceTable && len(src.qualifier) == 0 && idx > closed {
		return
	}
	key := src.key()
	if _, ok := sc.seen[key]; ok {
		return
	}
	sc.seen[key] = struct{}{}
	sc.sources = append(sc.sources, src)
}

// splitQualified splits a dotted identifier outside of quotes and normalizes
// each part.
func splitQualified(text string) []string {
	var (
		parts  []string
		start  int
		closer rune
	)
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case closer != 0:
			if r == closer {
				closer = 0
			}
		case r == '.':
			parts = append(parts, normalizePart(string(runes[start:i])))
			start = i + 1
		default:
			if c, ok := quoteCloser(r); ok {
				closer = c
			}
		}
	}
	return append(parts, normalizePart(string(runes[start:])))
}

func normalizePart(part string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(part), "\"`[]"))
}

// cteScopes maps each CTE name to the index of the token that closes its body.
func cteScopes(tokens []token) map[string]int {
	scopes := map[string]int{}
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].kind != tokenWord {
			continue
		}
		next := i + 1
		if tokens[next].kind == tokenPunct && tokens[next].text == "(" {
			next = matchingParen(tokens, next) + 1
		}
		if next+1 >= len(tokens) || !tokens[next].is("AS") {
			continue
		}
		open := next + 1
		if tokens[open].kind != tokenPunct || tokens[open].text != "(" {
			continue
		}
		if !definesCTE(tokens, i) {
			continue
		}
		scopes[normalizePart(tokens[i].text)] = matchingParen(tokens, open)
	}
	return scopes
}

// definesCTE reports whether the word at i follows WITH [RECURSIVE] or the comma
// after a previous CTE body.
func definesCTE(tokens []token, i int) bool {
	if i == 0 {
		return false
	}
	prev := tokens[i-1]
	if prev.is("WITH") {
		return true
	}
	if prev.is("RECURSIVE") && i >= 2 && tokens[i-2].is("WITH") {
		return true
	}
	return prev.kind == tokenPunct && prev.text == "," && i >= 2 &&
		tokens[i-2].kind == tokenPunct && tokens[i-2].text == ")"
}

func matchingParen(tokens []token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		if tokens[i].kind != tokenPunct {
			continue
		}
		switch tokens[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(tokens) - 1
}
