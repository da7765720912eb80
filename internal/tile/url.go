package tile

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{ *([\w_-]+) *\}`)

// Template expands tile URL templates such as
// "https://{s}.example.com/{z}/{x}/{y}.grid.json".
type Template struct {
	raw        string
	subdomains string
	values     map[string]string
}

// NewTemplate checks that every placeholder in raw can be filled from the
// built-in names (s, z, x, y) or values.
func NewTemplate(raw, subdomains string, values map[string]string) (*Template, error) {
	for _, m := range placeholder.FindAllStringSubmatch(raw, -1) {
		name := m[1]
		switch name {
		case "z", "x", "y":
		case "s":
			if subdomains == "" {
				return nil, fmt.Errorf("template %q uses {s} but no subdomains are configured", raw)
			}
		default:
			if _, ok := values[name]; !ok {
				return nil, fmt.Errorf("no value provided for template variable %q", name)
			}
		}
	}
	return &Template{raw: raw, subdomains: subdomains, values: values}, nil
}

// Subdomain picks the shard host for c, spreading neighbouring tiles over the pool.
func (t *Template) Subdomain(c Coord) string {
	if t.subdomains == "" {
		return ""
	}
	idx := c.X + c.Y
	if idx < 0 {
		idx = -idx
	}
	return string([]rune(t.subdomains)[idx%len([]rune(t.subdomains))])
}

// URL returns the tile URL for c.
func (t *Template) URL(c Coord) string {
	return placeholder.ReplaceAllStringFunc(t.raw, func(m string) string {
		name := strings.TrimSpace(m[1 : len(m)-1])
		switch name {
		case "s":
			return t.Subdomain(c)
		case "z":
			return strconv.Itoa(c.Z)
		case "x":
			return strconv.Itoa(c.X)
		case "y":
			return strconv.Itoa(c.Y)
		}
		return t.values[name]
	})
}

// CallbackURL returns the tile URL carrying the callback path
// "<registry>.<z>/<x>/<y>" the server wraps its response in.
func (t *Template) CallbackURL(c Coord, registry string) string {
	u := t.URL(c)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "callback=" + url.QueryEscape(CallbackPath(registry, c))
}

// CallbackPath is the name a callback response registers itself under.
func CallbackPath(registry string, c Coord) string {
	return registry + "." + c.Key()
}
