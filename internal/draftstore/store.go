package draftstore

import (
	"fmt"
	"time"

	"github.com/kangrianai89/catatan/internal/draft"
)

// Backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFS     = "fs"
)

// Durable is what the editor layer needs from a durable store.
type Durable interface {
	draft.Store
	draft.Lister
	// Purge drops drafts last written before the given time.
	Purge(before time.Time) (int, error)
}

// Options select and locate a durable backend.
type Options struct {
	Backend    string
	SQLitePath string
	FSDir      string
}

// Open returns the configured backend. The FS store is returned as its
// concrete type too so callers can watch it; it is nil for SQLite.
func Open(o Options) (Durable, *FS, error) {
	switch o.Backend {
	case BackendSQLite, "":
		s, err := OpenSQLite(o.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case BackendFS:
		f, err := NewFS(o.FSDir)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("draftstore: unknown backend %q", o.Backend)
	}
}
