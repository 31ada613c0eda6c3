// Package parser derives searchable text, titles, tags and links from the
// editable fields of an entity. Rich text arrives as HTML from the editor
// or as Markdown with optional YAML frontmatter from quick capture.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// Result is what the entity index stores next to the fields.
type Result struct {
	Title string
	// Body is plain text: markup stripped, whitespace collapsed.
	Body        string
	Tags        []string
	Links       []string
	Frontmatter map[string]any
}

// textFields are the fields whose content is indexed, in order.
var textFields = []string{"content", "description"}

// Parse indexes a field record of any kind.
func Parse(fields map[string]any) *Result {
	var (
		parts []string
		fm    map[string]any
	)
	for _, name := range textFields {
		s, _ := fields[name].(string)
		if s == "" {
			continue
		}
		front, body := splitFrontmatter(s)
		if fm == nil {
			fm = front
		}
		parts = append(parts, body)
	}
	if sections, ok := fields["sections"].([]any); ok {
		for _, item := range sections {
			if m, ok := item.(map[string]any); ok {
				parts = append(parts, str(m["title"]), str(m["content"]))
			}
		}
	}
	if snippets, ok := fields["snippets"].([]any); ok {
		for _, item := range snippets {
			if m, ok := item.(map[string]any); ok {
				parts = append(parts, str(m["code"]))
			}
		}
	}

	raw := strings.Join(parts, "\n")
	text := PlainText(raw)

	links := extractLinks(text)
	if u := str(fields["url"]); u != "" {
		links = appendUnique(links, u)
	}
	if ls, ok := fields["links"].([]any); ok {
		for _, l := range ls {
			if s := strings.TrimSpace(str(l)); s != "" {
				links = appendUnique(links, s)
			}
		}
	}

	return &Result{
		Title:       deriveTitle(fields, fm, raw),
		Body:        strings.TrimSpace(spaceRe.ReplaceAllString(text, " ")),
		Tags:        extractTags(text, fm),
		Links:       links,
		Frontmatter: fm,
	}
}

// PlainText strips HTML markup, keeping text and line structure. Input
// without markup is returned as is.
func PlainText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote":
				b.WriteByte('\n')
			}
		}
	}
}

// splitFrontmatter separates leading YAML frontmatter from a Markdown
// body. Content without a closed, valid block is all body.
func splitFrontmatter(s string) (map[string]any, string) {
	const delim = "---"
	data := []byte(s)
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, s
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, s
	}
	var fm map[string]any
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return nil, s
	}
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
	return fm, body
}

// extractLinks returns wikilink targets in order of first appearance;
// [[Target|Alias]] yields Target.
func extractLinks(text string) []string {
	var out []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
		target, _, _ := strings.Cut(m[1], "|")
		if target = strings.TrimSpace(target); target != "" {
			out = appendUnique(out, target)
		}
	}
	return out
}

// extractTags merges frontmatter tags with inline #tags.
func extractTags(text string, fm map[string]any) []string {
	var out []string
	if list, ok := fm["tags"].([]any); ok {
		for _, item := range list {
			if s := strings.TrimSpace(str(item)); s != "" {
				out = appendUnique(out, s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		out = appendUnique(out, m[1])
	}
	return out
}

// deriveTitle prefers an explicit title or name field, then frontmatter,
// then the first Markdown or HTML heading, then the URL.
func deriveTitle(fields, fm map[string]any, raw string) string {
	for _, name := range []string{"title", "name"} {
		if s := strings.TrimSpace(str(fields[name])); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(str(fm["title"])); s != "" {
		return s
	}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
		if strings.HasPrefix(trimmed, "<h1") {
			heading, _, _ := strings.Cut(trimmed, "</h1>")
			if t := strings.TrimSpace(PlainText(heading)); t != "" {
				return t
			}
		}
	}
	return str(fields["url"])
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
