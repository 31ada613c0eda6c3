package draft

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// blankMarkupRe matches what rich-text editors emit for an empty document.
var blankMarkupRe = regexp.MustCompile(`(?i)^(\s|<p>|</p>|<br\s*/?>|&nbsp;)*$`)

func blankText(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(s) == "" || blankMarkupRe.MatchString(s)
}

// emptyList treats null, [] and lists whose items are all blank objects as
// empty.
func emptyList(v any) bool {
	if v == nil {
		return true
	}
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, it := range items {
		switch x := it.(type) {
		case map[string]any:
			for _, fv := range x {
				if !blankText(fv) {
					return false
				}
			}
		case string:
			if !blankText(x) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func textField(name string, rules ...validation.Rule) Field {
	return Field{Name: name, Empty: "", IsEmpty: blankText, Rules: rules}
}

func listField(name string, rules ...validation.Rule) Field {
	return Field{Name: name, Empty: []any{}, IsEmpty: emptyList, Rules: rules}
}

// stringRule applies rules only when the value is a string, rejecting
// other JSON types outright.
func stringRule(rules ...validation.Rule) validation.Rule {
	return validation.By(func(v any) error {
		if v == nil {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return validation.NewError("validation_is_string", "must be a string")
		}
		return validation.Validate(s, rules...)
	})
}

// DefaultSchemas returns the schemas of the built-in kinds. Long-form
// editors draft into session scope; quick-create flows draft durably so a
// closed tab does not lose the entry.
func DefaultSchemas() []*Schema {
	return []*Schema{
		{
			Kind:  KindFolder,
			Scope: ScopeDurable,
			Fields: []Field{
				textField("name", validation.Required, stringRule(validation.Length(1, 120))),
				textField("description", stringRule(validation.Length(0, 1000))),
			},
		},
		{
			Kind:  KindNote,
			Scope: ScopeSession,
			Fields: []Field{
				textField("title", stringRule(validation.Length(0, 200))),
				textField("content"),
			},
		},
		{
			Kind:  KindNoteSectionSet,
			Scope: ScopeSession,
			Fields: []Field{
				listField("sections", validation.Length(0, 200)),
			},
		},
		{
			Kind:  KindAsset,
			Scope: ScopeDurable,
			Fields: []Field{
				textField("title", validation.Required, stringRule(validation.Length(1, 200))),
				textField("description"),
				textField("categoryId"),
				listField("links", validation.Length(0, 50)),
				listField("snippets", validation.Length(0, 50)),
			},
		},
		{
			Kind:  KindQuickNote,
			Scope: ScopeDurable,
			Fields: []Field{
				textField("title", stringRule(validation.Length(0, 200))),
				textField("content"),
			},
		},
		{
			Kind:  KindWebLink,
			Scope: ScopeDurable,
			Fields: []Field{
				textField("url", validation.Required, stringRule(is.URL)),
				textField("title", stringRule(validation.Length(0, 300))),
				textField("description"),
				textField("categoryId"),
			},
		},
	}
}

// DefaultRegistry returns a registry of the built-in kinds.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSchemas()...)
	if err != nil {
		panic(err)
	}
	return r
}
