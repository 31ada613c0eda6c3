package entityservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entity"
	"github.com/kangrianai89/catatan/internal/models"
)

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testService(t *testing.T) (*Service, *blob.FS) {
	t.Helper()
	dir := t.TempDir()
	db, err := entity.Open(filepath.Join(dir, "entities.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	blobs, err := blob.NewFS(filepath.Join(dir, "blobs"), "/attachments")
	if err != nil {
		t.Fatal(err)
	}
	return New(db, blobs, draft.DefaultRegistry(), nil), blobs
}

func mustCreate(t *testing.T, s *Service, owner string, in CreateInput) *models.Entity {
	t.Helper()
	e, err := s.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Create(%s): %v", in.Kind, err)
	}
	return e
}

func TestCreateAndGet(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()
	folder := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindFolder, Fields: draft.Record{"name": "Inbox"}})
	note := mustCreate(t, s, "alice", CreateInput{
		Kind:     draft.KindQuickNote,
		ParentID: folder.ID,
		Fields:   draft.Record{"title": "Shopping list", "content": "milk #errand"},
	})
	if note.Version != 1 || note.Title != "Shopping list" || note.ParentID != folder.ID {
		t.Errorf("note = %+v", note)
	}
	if len(note.Tags) != 1 || note.Tags[0] != "errand" {
		t.Errorf("tags = %v", note.Tags)
	}

	got, err := s.Get(ctx, "alice", note.ID)
	if err != nil || got.Fields.String("content") != "milk #errand" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, "bob", note.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-owner Get = %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := testService(t)
	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"unknown kind", CreateInput{Kind: "spaceship"}, apperr.ErrInvalid},
		{"missing folder name", CreateInput{Kind: draft.KindFolder, Fields: draft.Record{"name": ""}}, apperr.ErrInvalid},
		{"unknown field", CreateInput{Kind: draft.KindNote, Fields: draft.Record{"colour": "red"}}, apperr.ErrInvalid},
		{"missing parent", CreateInput{Kind: draft.KindNote, ParentID: "nope", Fields: draft.Record{"title": "x"}}, apperr.ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), "alice", c.in); !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}

	note := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindNote, Fields: draft.Record{"title": "n"}})
	_, err := s.Create(context.Background(), "alice", CreateInput{Kind: draft.KindNote, ParentID: note.ID, Fields: draft.Record{"title": "child"}})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("non-folder parent = %v", err)
	}
	root := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindNote, ParentID: draft.RootParent, Fields: draft.Record{"title": "top"}})
	if root.ParentID != "" {
		t.Errorf("root parent = %q", root.ParentID)
	}
}

func TestUpdate_MergeVersionAndMove(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()
	a := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindFolder, Fields: draft.Record{"name": "A"}})
	b := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindFolder, ParentID: a.ID, Fields: draft.Record{"name": "B"}})
	n := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindNote, Fields: draft.Record{"title": "Old", "content": "keep"}})

	up, err := s.Update(ctx, "alice", n.ID, UpdateInput{Fields: draft.Record{"title": "New"}, IfVersion: 1})
	if err != nil {
		t.Fatal(err)
	}
	if up.Title != "New" || up.Fields.String("content") != "keep" || up.Version != 2 {
		t.Errorf("updated = %+v", up)
	}
	if _, err := s.Update(ctx, "alice", n.ID, UpdateInput{Fields: draft.Record{"title": "Stale"}, IfVersion: 1}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale = %v", err)
	}

	parent := b.ID
	moved, err := s.Update(ctx, "alice", n.ID, UpdateInput{ParentID: &parent})
	if err != nil || moved.ParentID != b.ID {
		t.Fatalf("move = %+v, %v", moved, err)
	}

	// A folder cannot move under its own descendant.
	self := b.ID
	if _, err := s.Update(ctx, "alice", a.ID, UpdateInput{ParentID: &self}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("cycle = %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, blobs := testService(t)
	ctx := context.Background()
	f := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindFolder, Fields: draft.Record{"name": "F"}})
	a := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindAsset, ParentID: f.ID, Fields: draft.Record{"title": "Logo"}})
	a, err := s.SwapBlob(ctx, "alice", a.ID, "logo.png", png)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "alice", f.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("non-empty folder delete = %v", err)
	}
	if err := s.Delete(ctx, "alice", a.ID); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Join(blobs.Root(), "alice", a.ID))
	if len(entries) != 0 {
		t.Errorf("attachment left behind: %v", entries)
	}
	if err := s.Delete(ctx, "alice", f.ID); err != nil {
		t.Errorf("empty folder delete = %v", err)
	}
}

func TestSwapBlob(t *testing.T) {
	s, blobs := testService(t)
	ctx := context.Background()
	a := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindAsset, Fields: draft.Record{"title": "Logo", "description": "d"}})

	first, err := s.SwapBlob(ctx, "alice", a.ID, "logo.png", png)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SwapBlob(ctx, "alice", a.ID, "logo2.png", png)
	if err != nil {
		t.Fatal(err)
	}
	if first.BlobURL == second.BlobURL || second.BlobURL == "" {
		t.Errorf("urls = %q, %q", first.BlobURL, second.BlobURL)
	}
	if second.Version != a.Version || second.Fields.String("description") != "d" {
		t.Errorf("swap touched editable state: %+v", second)
	}
	entries, _ := os.ReadDir(filepath.Join(blobs.Root(), "alice", a.ID))
	if len(entries) != 1 {
		t.Errorf("expected only the new attachment, got %d files", len(entries))
	}

	if _, err := s.SwapBlob(ctx, "alice", a.ID, "evil.exe", png); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("bad extension = %v", err)
	}
}

func TestListSearchAndNotifier(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ops []string
	s.SetNotifier(func(op, owner string, e *models.Entity) {
		mu.Lock()
		ops = append(ops, op+":"+owner+":"+string(e.Kind))
		mu.Unlock()
	})

	n := mustCreate(t, s, "alice", CreateInput{Kind: draft.KindNote, Fields: draft.Record{"title": "Gardening", "content": "<p>tomatoes</p>"}})
	mustCreate(t, s, "alice", CreateInput{Kind: draft.KindWebLink, Fields: draft.Record{"url": "https://go.dev"}})
	_, _ = s.Update(ctx, "alice", n.ID, UpdateInput{Fields: draft.Record{"content": "<p>tomatoes and basil</p>"}})

	items, total, err := s.List(ctx, "alice", entity.ListQuery{Kind: draft.KindNote})
	if err != nil || total != 1 || items[0].ID != n.ID {
		t.Errorf("List = %+v, %d, %v", items, total, err)
	}
	hits, err := s.Search(ctx, "alice", "basil", 10)
	if err != nil || len(hits) != 1 || hits[0].ID != n.ID {
		t.Errorf("Search = %+v, %v", hits, err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"created:alice:note", "created:alice:web-link", "updated:alice:note"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v", ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestRemote(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()
	r := s.Remote("alice")

	created, err := r.Save(ctx, draft.SaveRequest{
		Kind:     draft.KindQuickNote,
		EntityID: draft.NewEntity,
		ParentID: draft.RootParent,
		Fields:   draft.Record{"title": "Quick", "content": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.Version != "1" || created.Aux["created_at"] == "" {
		t.Errorf("created = %+v", created)
	}

	got, err := r.Fetch(ctx, draft.KindQuickNote, created.ID)
	if err != nil || got.Fields.String("title") != "Quick" {
		t.Fatalf("Fetch = %+v, %v", got, err)
	}
	if _, err := r.Fetch(ctx, draft.KindNote, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("kind mismatch = %v", err)
	}
	if _, err := s.Remote("bob").Fetch(ctx, draft.KindQuickNote, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("other owner = %v", err)
	}

	updated, err := r.Save(ctx, draft.SaveRequest{
		Kind:      draft.KindQuickNote,
		EntityID:  created.ID,
		Fields:    draft.Record{"title": "Quick v2", "content": ""},
		IfVersion: "1",
	})
	if err != nil || updated.Version != "2" {
		t.Fatalf("update = %+v, %v", updated, err)
	}
	_, err = r.Save(ctx, draft.SaveRequest{Kind: draft.KindQuickNote, EntityID: created.ID, Fields: draft.Record{"title": "x"}, IfVersion: "1"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale save = %v", err)
	}
}
