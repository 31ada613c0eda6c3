//go:build sqlite_fts5

package entity

import (
	"context"
	"strings"
	"testing"

	"github.com/kangrianai89/catatan/internal/draft"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entities_fts`).Scan(&count); err != nil {
		t.Fatalf("entities_fts table missing: %v", err)
	}
}

func TestFTS5_SearchFollowsWrites(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := newEntity("n1", "alice", draft.KindNote, "FTS Note")
	e.Body = "Catatan provides powerful full-text search capabilities."
	if err := db.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}

	res, err := db.Search(ctx, "alice", "power", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || !strings.Contains(res[0].Snippet, "<b>") {
		t.Fatalf("results = %+v", res)
	}
	if res, _ := db.Search(ctx, "bob", "power", 10); len(res) != 0 {
		t.Errorf("other owner sees %+v", res)
	}

	e.Body = "rewritten"
	if err := db.Update(ctx, e, 0); err != nil {
		t.Fatal(err)
	}
	if res, _ := db.Search(ctx, "alice", "powerful", 10); len(res) != 0 {
		t.Errorf("stale hit after update: %+v", res)
	}

	if err := db.Delete(ctx, "alice", "n1"); err != nil {
		t.Fatal(err)
	}
	if res, _ := db.Search(ctx, "alice", "rewritten", 10); len(res) != 0 {
		t.Errorf("hit after delete: %+v", res)
	}
}

func TestFTSQuery(t *testing.T) {
	if got := ftsQuery(`go "AND" NOT`); got != `"go"* """AND"""* "NOT"*` {
		t.Errorf("ftsQuery = %q", got)
	}
}
