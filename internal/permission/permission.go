// Package permission maps caller roles to the tables generated SQL may touch.
package permission

import (
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RolePrincipal Role = "principal"
	RoleTeacher   Role = "teacher"
	RoleParent    Role = "parent"
)

// ParseRole normalizes a role name. Unrecognized roles are returned as-is and
// resolve to the minimal default set.
func ParseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

// TableSet is an immutable set of table names, or the wildcard.
type TableSet struct {
	wildcard bool
	tables   map[string]struct{}
}

func NewTableSet(tables ...string) TableSet {
	set := TableSet{tables: make(map[string]struct{}, len(tables))}
	for _, table := range tables {
		table = NormalizeTable(table)
		if table == "" {
			continue
		}
		set.tables[table] = struct{}{}
	}
	return set
}

func Wildcard() TableSet {
	return TableSet{wildcard: true}
}

func (s TableSet) IsWildcard() bool {
	return s.wildcard
}

func (s TableSet) Allows(table string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.tables[NormalizeTable(table)]
	return ok
}

// Tables returns the member tables sorted. The wildcard set returns nil.
func (s TableSet) Tables() []string {
	if s.wildcard {
		return nil
	}
	out := make([]string, 0, len(s.tables))
	for table := range s.tables {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

func (s TableSet) Len() int {
	return len(s.tables)
}

// Resolve returns the table set for role.
func Resolve(role Role) TableSet {
	if role == RoleAdmin {
		return Wildcard()
	}
	if tables, ok := roleTables[role]; ok {
		return NewTableSet(tables...)
	}
	return NewTableSet(defaultRoleTables...)
}

// Permitted lists the tables visible to role with their descriptions. Named
// roles keep their declared order; admins see the core tables first, then every
// other described table alphabetically.
func Permitted(role Role) []Table {
	var names []string
	switch {
	case role == RoleAdmin:
		names = CoreTables()
		rest := make([]string, 0, len(tableDescriptions))
		for name := range tableDescriptions {
			if !contains(names, name) {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		names = append(names, rest...)
	case roleTables[role] != nil:
		names = roleTables[role]
	default:
		names = defaultRoleTables
	}
	out := make([]Table, 0, len(names))
	for _, name := range names {
		out = append(out, Table{Name: name, Description: Describe(name)})
	}
	return out
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

type Table struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func Describe(table string) string {
	if description, ok := tableDescriptions[NormalizeTable(table)]; ok {
		return description
	}
	return table
}

// CoreTables is the set a wildcard expands to when building a schema description.
func CoreTables() []string {
	return append([]string(nil), coreTables...)
}

// NormalizeTable strips identifier quoting and any schema prefix, lower-cased.
func NormalizeTable(table string) string {
	table = strings.TrimSpace(table)
	table = strings.Trim(table, "`\"[]")
	if idx := strings.LastIndex(table, "."); idx >= 0 {
		table = table[idx+1:]
	}
	return strings.ToLower(strings.Trim(table, "`\"[]"))
}
