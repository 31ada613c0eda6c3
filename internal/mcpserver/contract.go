package mcpserver

import (
	"fmt"
	"strings"

	"github.com/kangrianai89/catatan/internal/draft"
)

const contractPreamble = `# Catatan Entity Format Contract

Every entity has a kind and a set of fields. Unknown fields are rejected.

## Text fields

Text fields (title, content, description) hold Markdown.

1. **Optional YAML frontmatter.** A leading ` + "`---`" + ` fenced block may carry
   ` + "`title`" + ` and ` + "`tags`" + `. It must be the first thing in the text.
2. **Title fallback.** Without a title field or frontmatter title, the first
   ` + "`# Heading`" + ` becomes the title.
3. **Links.** Use [[wikilinks]] to reference other entities by title.
4. **Tags.** Frontmatter tags and inline #tags are merged without
   duplicates.
5. **Attachments.** Upload images with upload_asset and embed the returned
   Markdown snippet.

## Lists

List fields (sections, links, snippets) are JSON arrays. Sections are
objects with ` + "`title`" + ` and ` + "`content`" + `; snippets carry ` + "`code`" + `.
`

// Contract renders the format contract for the kinds in reg.
func Contract(reg *draft.Registry) string {
	var b strings.Builder
	b.WriteString(contractPreamble)
	b.WriteString("\n## Kinds\n\n| kind | draft scope | fields |\n|---|---|---|\n")
	for _, k := range reg.Kinds() {
		s, err := reg.Lookup(k)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(s.Fields))
		for _, f := range s.Fields {
			names = append(names, "`"+f.Name+"`")
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", k, s.Scope, strings.Join(names, ", "))
	}
	return b.String()
}
