// Package wql parses and normalizes WQL query text.
//
// Two query shapes are accepted:
//
//	SELECT <props|*> FROM <class> [WHERE <condition>]
//	[SELECT <props|*> FROM] ASSOCIATORS OF {<anchor>} [<clauses>]
//
// Keywords are case-insensitive and may be separated by any whitespace,
// including newlines. A property may name a sub-property of an embedded
// object with a single dot (DriveInfo.Name). The first shape is rewritten
// into a canonical form with lower-cased, deduplicated top-level property
// names. For the second shape the traversal clause is sent as written and
// the optional select list is applied locally to the returned rows.
//
// # Usage
//
//	q, err := wql.Parse("SELECT Name, DriveInfo.Serial FROM MPIO_DISK_INFO")
//	if err != nil {
//		return err
//	}
//	q.Canonical()          // "SELECT name,driveinfo FROM MPIO_DISK_INFO"
//	q.SelectedProperties() // ["name" "driveinfo"]
//	q.SubProperties()      // {"driveinfo": ["serial"]}
package wql

import (
	"regexp"
	"strings"

	"github.com/smnsjas/go-wmicore/wmierr"
)

const (
	identPattern    = `[A-Za-z0-9_]+`
	propPattern     = identPattern + `(?:\.` + identPattern + `)?`
	propListPattern = propPattern + `(?:\s*,\s*` + propPattern + `)*`
)

var (
	selectRe      = regexp.MustCompile(`(?is)^\s*SELECT\s+(\*|` + propListPattern + `)\s+FROM\s+(.*)$`)
	associatorsRe = regexp.MustCompile(`(?is)^\s*(ASSOCIATORS\s+OF\s*\{.*\}.*?)\s*$`)
	classRe       = regexp.MustCompile(`(?is)^(` + identPattern + `)(?:\s+(WHERE\s+\S.*?))?\s*$`)
	commaRe       = regexp.MustCompile(`\s*,\s*`)
)

// keywords may not be used as property or class names.
var keywords = map[string]bool{
	"select": true,
	"from":   true,
	"where":  true,
}

// Query is a validated WQL query. It is immutable and safe to share.
type Query struct {
	raw         string
	canonical   string
	class       string
	associators bool
	selected    []string
	sub         map[string][]string
}

// Parse validates raw and returns its normalized form.
// On failure it returns a QuerySyntax error carrying the offending text.
func Parse(raw string) (*Query, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, wmierr.QuerySyntax("Parse", "empty query")
	}

	if m := associatorsRe.FindStringSubmatch(raw); m != nil {
		return &Query{
			raw:         raw,
			canonical:   m[1],
			associators: true,
			sub:         map[string][]string{},
		}, nil
	}

	m := selectRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, invalid(raw)
	}

	q := &Query{raw: raw, sub: map[string][]string{}}
	if m[1] != "*" {
		if err := q.addProperties(m[1]); err != nil {
			return nil, invalid(raw)
		}
	}

	rest := m[2]
	if am := associatorsRe.FindStringSubmatch(rest); am != nil {
		q.canonical = am[1]
		q.associators = true
		return q, nil
	}

	cm := classRe.FindStringSubmatch(rest)
	if cm == nil || keywords[strings.ToLower(cm[1])] {
		return nil, invalid(raw)
	}
	q.class = cm[1]

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.selected) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(q.selected, ","))
	}
	b.WriteString(" FROM ")
	b.WriteString(q.class)
	if cm[2] != "" {
		b.WriteString(" ")
		b.WriteString(cm[2])
	}
	q.canonical = b.String()
	return q, nil
}

// IsValid reports whether raw is an accepted WQL query.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

func (q *Query) addProperties(list string) error {
	for _, item := range commaRe.Split(strings.TrimSpace(list), -1) {
		name, sub, dotted := strings.Cut(strings.ToLower(item), ".")
		if keywords[name] || keywords[sub] {
			return wmierr.QuerySyntax("Parse", "reserved word %q used as property", item)
		}
		if !contains(q.selected, name) {
			q.selected = append(q.selected, name)
		}
		if dotted && !contains(q.sub[name], sub) {
			q.sub[name] = append(q.sub[name], sub)
		}
	}
	return nil
}

func invalid(raw string) error {
	return wmierr.QuerySyntax("Parse", "invalid WQL query: %q", raw)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Raw returns the query text as supplied.
func (q *Query) Raw() string {
	return q.raw
}

// Canonical returns the text submitted to the server.
func (q *Query) Canonical() string {
	return q.canonical
}

// String returns the canonical text.
func (q *Query) String() string {
	return q.canonical
}

// Class returns the class named in the FROM clause, or "" for an
// associators query.
func (q *Query) Class() string {
	return q.class
}

// IsAssociators reports whether q traverses associations.
func (q *Query) IsAssociators() bool {
	return q.associators
}

// SelectedProperties returns the lower-cased top-level property names in
// selection order. An empty result means all properties.
func (q *Query) SelectedProperties() []string {
	out := make([]string, len(q.selected))
	copy(out, q.selected)
	return out
}

// SubProperties maps each dotted top-level property to its requested
// sub-property names.
func (q *Query) SubProperties() map[string][]string {
	out := make(map[string][]string, len(q.sub))
	for k := range q.sub {
		out[k] = q.SubPropertiesOf(k)
	}
	return out
}

// SubPropertiesOf returns the sub-properties requested for name.
func (q *Query) SubPropertiesOf(name string) []string {
	subs := q.sub[strings.ToLower(name)]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, len(subs))
	copy(out, subs)
	return out
}
