package entityservice

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/models"
)

// Remote binds the service to one owner as the authoritative side of the
// editors that owner opens.
func (s *Service) Remote(owner string) draft.Remote {
	return &remote{svc: s, owner: owner}
}

type remote struct {
	svc   *Service
	owner string
}

func (r *remote) Fetch(ctx context.Context, kind draft.Kind, id string) (*draft.Authoritative, error) {
	e, err := r.svc.Get(ctx, r.owner, id)
	if err != nil {
		return nil, err
	}
	if e.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s", apperr.ErrNotFound, id, e.Kind)
	}
	return authoritative(e), nil
}

func (r *remote) Save(ctx context.Context, req draft.SaveRequest) (*draft.Authoritative, error) {
	if req.EntityID == draft.NewEntity || req.EntityID == "" {
		e, err := r.svc.Create(ctx, r.owner, CreateInput{Kind: req.Kind, ParentID: req.ParentID, Fields: req.Fields})
		if err != nil {
			return nil, err
		}
		return authoritative(e), nil
	}
	var ifVersion int64
	if req.IfVersion != "" {
		v, err := strconv.ParseInt(req.IfVersion, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q", apperr.ErrInvalid, req.IfVersion)
		}
		ifVersion = v
	}
	e, err := r.svc.Update(ctx, r.owner, req.EntityID, UpdateInput{Fields: req.Fields, IfVersion: ifVersion})
	if err != nil {
		return nil, err
	}
	return authoritative(e), nil
}

func authoritative(e *models.Entity) *draft.Authoritative {
	aux := map[string]string{
		"title":      e.Title,
		"created_at": e.CreatedAt.Format(time.RFC3339),
		"updated_at": e.UpdatedAt.Format(time.RFC3339),
	}
	if len(e.Tags) > 0 {
		aux["tags"] = strings.Join(e.Tags, ",")
	}
	if e.BlobURL != "" {
		aux["blob_url"] = e.BlobURL
	}
	return &draft.Authoritative{
		ID:        e.ID,
		Kind:      e.Kind,
		ParentID:  e.ParentID,
		Version:   strconv.FormatInt(e.Version, 10),
		Fields:    e.Fields.Clone(),
		Aux:       aux,
		UpdatedAt: e.UpdatedAt,
	}
}
