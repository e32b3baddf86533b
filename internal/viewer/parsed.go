package viewer

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	hadithSelector   = "div.hadith"
	infoSelector     = "div.hadith-info"
	subtitleSelector = "span.info-subtitle"
)

// extract pairs the Nth hadith block with the Nth info block, stopping at
// the shorter list.
func (r *Renderer) extract(root *html.Node) []Row {
	texts := r.dom.QueryAll(root, hadithSelector)
	infos := r.dom.QueryAll(root, infoSelector)
	n := min(len(texts), len(infos))
	if n == 0 {
		return nil
	}
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row := Row{Text: collapse(textContent(texts[i])), Fields: []Field{}}
		for _, f := range r.segments(infos[i]) {
			row.set(f)
		}
		rows = append(rows, row)
	}
	return rows
}

// segments splits an info block at its subtitle markers. Text after a
// marker, up to the next one, becomes that marker's value.
func (r *Renderer) segments(info *html.Node) []Field {
	markers := map[*html.Node]bool{}
	for _, m := range r.dom.QueryAll(info, subtitleSelector) {
		markers[m] = true
	}

	var fields []Field
	var value strings.Builder
	open := false
	flush := func() {
		if open {
			fields[len(fields)-1].Value = collapse(value.String())
		}
		value.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case markers[c]:
				flush()
				fields = append(fields, Field{Label: collapse(textContent(c))})
				open = true
			case c.Type == html.TextNode:
				if open {
					value.WriteString(c.Data)
				}
			case c.Type == html.ElementNode:
				// Element boundaries count as whitespace.
				if open {
					value.WriteByte(' ')
				}
				walk(c)
			}
		}
	}
	walk(info)
	flush()
	return fields
}

func (row *Row) set(f Field) {
	row.Fields = append(row.Fields, f)
	switch FieldFor(f.Label) {
	case FieldNarrator:
		row.Narrator = f.Value
	case FieldScholar:
		row.Scholar = f.Value
	case FieldSource:
		row.Source = f.Value
	case FieldPage:
		row.Page = f.Value
	case FieldGrade:
		row.Grade = f.Value
	default:
		if row.Extra == nil {
			row.Extra = map[string]string{}
		}
		row.Extra[strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(f.Label), ":"))] = f.Value
	}
}
