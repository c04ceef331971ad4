// Package sanitize cleans comment text against the board's markup allow-list.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"threadboard/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

var allowedTags = map[string]struct{}{
	"a":      {},
	"code":   {},
	"i":      {},
	"strong": {},
}

// tagPattern matches anything that looks like an opening or closing tag.
// "a < b > c" is read as tag b and rejected; callers are expected to escape.
var tagPattern = regexp.MustCompile(`<\s*/?\s*([A-Za-z][A-Za-z0-9]*)`)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("code", "i", "strong")
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// Sanitize rejects text containing tags outside the allow-list, then strips
// disallowed attributes, URL schemes and HTML comments from what remains.
func Sanitize(raw string) (string, error) {
	if name := firstDisallowedTag(raw); name != "" {
		return "", models.NewValidationError(fmt.Sprintf("tag <%s> is not allowed", name))
	}

	cleaned := policy.Sanitize(raw)
	if strings.TrimSpace(cleaned) == "" {
		return "", models.NewValidationError("empty message")
	}
	return cleaned, nil
}

func firstDisallowedTag(raw string) string {
	for _, match := range tagPattern.FindAllStringSubmatch(raw, -1) {
		name := strings.ToLower(match[1])
		if _, ok := allowedTags[name]; !ok {
			return name
		}
	}
	return ""
}
