package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownField is returned when a template references a field name that
// has no entry in the component dictionary.
var ErrUnknownField = errors.New("unknown field in template")

// Separator joins multiple pattern or glob strings into a single stored
// column value.
const Separator = "__%%__"

var (
	placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)
	wsRunRe       = regexp.MustCompile(`\s+`)
	quotedWsRe    = regexp.MustCompile(`[ \t\r\n]+`)
)

// Pattern is a compiled message template. The regex carries one named
// capture group per {field} placeholder. The glob is a coarse wildcard
// rendering of the same template used as a cheap pre-filter: a body that
// does not contain the template's literal tokens in order can never match
// the full regex.
type Pattern struct {
	re     *regexp.Regexp
	glob   string
	tokens []string
}

// Compile transforms a message template into a Pattern. Literal text is
// escaped so regex metacharacters match themselves, whitespace runs match
// any whitespace run (carriers vary in spacing and line breaks), and every
// {name} placeholder becomes a named capture group whose sub-expression is
// looked up from components.
func Compile(template string, components map[string]string) (*Pattern, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)

	var regex strings.Builder
	var glob strings.Builder
	last := 0
	for _, m := range matches {
		literal := template[last:m[0]]
		name := template[m[2]:m[3]]

		fragment, ok := components[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}

		regex.WriteString(quoteLiteral(literal))
		regex.WriteString("(?P<" + name + ">" + fragment + ")")

		glob.WriteString(strings.ReplaceAll(literal, "*", `\*`))
		glob.WriteString("*")

		last = m[1]
	}
	tail := template[last:]
	regex.WriteString(quoteLiteral(tail))
	glob.WriteString(strings.ReplaceAll(tail, "*", `\*`))

	re, err := regexp.Compile(regex.String())
	if err != nil {
		return nil, fmt.Errorf("compiling template %q: %w", template, err)
	}

	globStr := glob.String()
	return &Pattern{re: re, glob: globStr, tokens: globTokens(globStr)}, nil
}

// FromRegex rebuilds a Pattern from its stored regex source and glob
// string, as persisted by Regex and Glob.
func FromRegex(source, glob string) (*Pattern, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("recompiling stored pattern: %w", err)
	}
	return &Pattern{re: re, glob: glob, tokens: globTokens(glob)}, nil
}

// quoteLiteral escapes regex metacharacters in literal template text and
// widens whitespace runs to \s+.
func quoteLiteral(s string) string {
	return quotedWsRe.ReplaceAllString(regexp.QuoteMeta(s), `\s+`)
}

// globTokens extracts the literal words of a glob, dropping wildcards.
// Used for the ordered-containment pre-filter.
func globTokens(glob string) []string {
	var tokens []string
	for _, chunk := range strings.Split(glob, "*") {
		chunk = strings.ReplaceAll(chunk, `\`, "")
		tokens = append(tokens, strings.Fields(chunk)...)
	}
	return tokens
}

// Regex returns the compiled regex source for persistence.
func (p *Pattern) Regex() string {
	return p.re.String()
}

// Glob returns the wildcard rendering for persistence.
func (p *Pattern) Glob() string {
	return p.glob
}

// PreMatch reports whether the body contains all of the pattern's literal
// tokens in order. A false result guarantees Match would fail; a true
// result proves nothing.
func (p *Pattern) PreMatch(body string) bool {
	pos := 0
	for _, tok := range p.tokens {
		idx := strings.Index(body[pos:], tok)
		if idx < 0 {
			return false
		}
		pos += idx + len(tok)
	}
	return true
}

// Match runs the full pattern against a message body and returns the named
// capture groups of the first match, or ok=false when the body does not
// match.
func (p *Pattern) Match(body string) (map[string]string, bool) {
	if !p.PreMatch(body) {
		return nil, false
	}

	sub := p.re.FindStringSubmatch(body)
	if sub == nil {
		return nil, false
	}

	fields := make(map[string]string)
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		fields[name] = sub[i]
	}
	return fields, true
}

// CollapseWhitespace normalizes whitespace runs to a single space. Handy
// for display of multi-line bodies.
func CollapseWhitespace(s string) string {
	return wsRunRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
