package draft

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// Authoritative is the server-of-record view of an entity as the editor
// needs it: the editable fields plus the auxiliary fields a draft never
// carries.
type Authoritative struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	ParentID  string            `json:"parent_id,omitempty"`
	Version   string            `json:"version"`
	Fields    Record            `json:"fields"`
	Aux       map[string]string `json:"aux,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SaveRequest is an explicit, user-committed write.
type SaveRequest struct {
	Kind Kind
	// EntityID is NewEntity for creation flows.
	EntityID string
	ParentID string
	Fields   Record
	// IfVersion, when set, must match the stored version.
	IfVersion string
}

// Remote is the authoritative persistence service. Fetch and Save report
// apperr.ErrNotFound for missing entities (or, on create, parents).
type Remote interface {
	Fetch(ctx context.Context, kind Kind, id string) (*Authoritative, error)
	Save(ctx context.Context, req SaveRequest) (*Authoritative, error)
}

// fetch calls remote.Fetch, retrying transient failures. Not-found is
// final.
func fetch(ctx context.Context, remote Remote, kind Kind, id string, attempts uint, delay time.Duration) (*Authoritative, error) {
	if attempts == 0 {
		attempts = 1
	}
	var out *Authoritative
	err := retry.Do(
		func() error {
			a, err := remote.Fetch(ctx, kind, id)
			if err != nil {
				return err
			}
			out = a
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, context.Canceled)
		}),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}
