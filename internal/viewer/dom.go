package viewer

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM parses and queries untrusted HTML. Implementations must never
// execute anything they parse.
type DOM interface {
	Parse(fragment string) (*html.Node, error)
	QueryAll(root *html.Node, selector string) []*html.Node
}

// HTMLDOM is the DOM backed by golang.org/x/net/html. It understands the
// selectors "tag", ".class" and "tag.class".
type HTMLDOM struct{}

func (HTMLDOM) Parse(fragment string) (*html.Node, error) {
	return html.Parse(strings.NewReader(fragment))
}

func (HTMLDOM) QueryAll(root *html.Node, selector string) []*html.Node {
	tag, class, _ := strings.Cut(strings.TrimSpace(selector), ".")
	tag = strings.ToLower(tag)
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (tag == "" || n.Data == tag) && (class == "" || hasClass(n, class)) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

// blockedElements are removed together with their content.
var blockedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Iframe: true,
	atom.Object: true,
	atom.Embed:  true,
}

var urlAttrs = map[string]bool{
	"href": true, "src": true, "action": true, "formaction": true,
	"xlink:href": true, "poster": true, "background": true,
}

// Sanitize removes blocked elements, event-handler attributes and
// javascript: URLs from the tree in place. Offending fragments are
// dropped silently.
func Sanitize(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode && (blockedElements[c.DataAtom] || blockedName(c.Data)) {
				n.RemoveChild(c)
			} else {
				if c.Type == html.ElementNode {
					c.Attr = cleanAttrs(c.Attr)
				}
				walk(c)
			}
			c = next
		}
	}
	walk(root)
}

// blockedName catches elements in foreign content, whose atom is not set.
func blockedName(name string) bool {
	switch strings.ToLower(name) {
	case "script", "style", "iframe", "object", "embed":
		return true
	}
	return false
}

func cleanAttrs(attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if a.Namespace != "" {
			key = strings.ToLower(a.Namespace) + ":" + key
		}
		if strings.HasPrefix(strings.ToLower(a.Key), "on") {
			continue
		}
		if urlAttrs[key] || urlAttrs[strings.ToLower(a.Key)] {
			if isScriptURL(a.Val) {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

func isScriptURL(v string) bool {
	var b strings.Builder
	for _, r := range v {
		// Browsers ignore whitespace and control characters inside schemes.
		if r <= ' ' {
			continue
		}
		b.WriteRune(r)
	}
	s := strings.ToLower(b.String())
	return strings.HasPrefix(s, "javascript:") || strings.HasPrefix(s, "vbscript:") || strings.HasPrefix(s, "data:text/html")
}

// innerHTML renders the children of the body element, or of root when the
// tree has no body.
func innerHTML(root *html.Node) (string, error) {
	container := root
	if body := findBody(root); body != nil {
		container = body
	}
	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// textContent concatenates all text below n.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// collapse trims and folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
