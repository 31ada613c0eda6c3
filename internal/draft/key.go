// Package draft implements key-scoped autosave for editors: a key scheme,
// a narrow store contract with session and durable scopes, per-kind record
// schemas, and the per-editor lifecycle controller that decides when a
// draft is written, preferred over authoritative data, or discarded.
package draft

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind names an entity kind. Each kind owns its own key namespace.
type Kind string

// Built-in kinds.
const (
	KindFolder         Kind = "folder"
	KindNote           Kind = "note"
	KindNoteSectionSet Kind = "note-section-set"
	KindAsset          Kind = "asset"
	KindQuickNote      Kind = "quick-note"
	KindWebLink        Kind = "web-link"
)

// Sentinels for entities that do not have an identifier yet.
const (
	NewEntity  = "new"
	RootParent = "root"
)

const keyPrefix = "draft:"

// Key identifies one draft slot.
type Key string

// ComputeKey maps (kind, entity, parent) to a draft key.
//
// Existing entities are keyed by kind and id only, so the same edit always
// resumes under the same key. Creation flows (empty id or NewEntity) are
// additionally scoped by parent, with RootParent standing in for none.
// Components are query-escaped, which keeps ':' and '@' unambiguous.
func ComputeKey(kind Kind, entityID, parentID string) Key {
	if entityID == "" {
		entityID = NewEntity
	}
	k := keyPrefix + url.QueryEscape(string(kind)) + ":" + url.QueryEscape(entityID)
	if entityID == NewEntity {
		if parentID == "" {
			parentID = RootParent
		}
		k += "@" + url.QueryEscape(parentID)
	}
	return Key(k)
}

// ParseKey splits a key produced by ComputeKey back into its parts.
func ParseKey(key Key) (kind Kind, entityID, parentID string, err error) {
	s, ok := strings.CutPrefix(string(key), keyPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("draft: key %q: missing prefix", key)
	}
	rawKind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", "", fmt.Errorf("draft: key %q: missing entity", key)
	}
	rawID, rawParent, scoped := strings.Cut(rest, "@")

	k, err := url.QueryUnescape(rawKind)
	if err != nil {
		return "", "", "", fmt.Errorf("draft: key %q: %w", key, err)
	}
	if entityID, err = url.QueryUnescape(rawID); err != nil {
		return "", "", "", fmt.Errorf("draft: key %q: %w", key, err)
	}
	if scoped {
		if parentID, err = url.QueryUnescape(rawParent); err != nil {
			return "", "", "", fmt.Errorf("draft: key %q: %w", key, err)
		}
	}
	return Kind(k), entityID, parentID, nil
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }
