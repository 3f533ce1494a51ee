package sqldb

import (
	"strconv"
	"strings"
)

// applyRowLimit bounds the top-level statement to limit rows. A trailing numeric
// LIMIT is tightened in place; a statement without one gets LIMIT appended.
// Statements it cannot rewrite safely are returned unchanged and capped while
// reading rows instead.
func applyRowLimit(sqlText string, limit int) string {
	words, openComment := topLevelWords(sqlText)
	offset := false
	for i := len(words) - 1; i >= 0; i-- {
		switch strings.ToUpper(words[i].text) {
		case "LIMIT":
			if i+1 >= len(words) {
				return sqlText
			}
			count := words[i+1]
			// MySQL LIMIT offset, count
			if strings.HasPrefix(strings.TrimSpace(sqlText[count.end:]), ",") {
				if i+2 >= len(words) {
					return sqlText
				}
				count = words[i+2]
			}
			n, err := strconv.Atoi(count.text)
			if err != nil || n <= limit {
				return sqlText
			}
			return sqlText[:count.start] + strconv.Itoa(limit) + sqlText[count.end:]
		case "OFFSET":
			offset = true
		case "FETCH":
			return sqlText
		}
	}
	if offset {
		return sqlText
	}
	sep := " "
	if openComment {
		sep = "\n"
	}
	return sqlText + sep + "LIMIT " + strconv.Itoa(limit)
}

type sqlWord struct {
	text       string
	start, end int
}

// topLevelWords lists the words outside parentheses, quotes and comments.
// openComment reports a line comment running to the end of the text.
func topLevelWords(s string) (words []sqlWord, openComment bool) {
	depth := 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return words, false
			}
			i += end + 2
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return words, true
			}
			i += end + 1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return words, false
			}
			i += end + 4
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			if depth == 0 {
				words = append(words, sqlWord{text: s[i:j], start: i, end: j})
			}
			i = j
		default:
			i++
		}
	}
	return words, false
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
