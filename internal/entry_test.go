package internal

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/entityservice"
)

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil || !strings.Contains(err.Error(), "config is required") {
		t.Errorf("Run = %v", err)
	}
	if err := RunMCP(context.Background()); err == nil {
		t.Error("RunMCP without config should fail")
	}
}

func TestOpenEntities(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(dir, "nested", "catatan.db")
	cfg.Blob.FSDir = filepath.Join(dir, "attachments")

	var logs bytes.Buffer
	db, svc, blobs, err := openEntities(context.Background(), cfg, newLogger(&logs, cfg.App.LogLevel))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatal(err)
	}

	e, err := svc.Create(context.Background(), "local", entityservice.CreateInput{
		Kind:   draft.KindQuickNote,
		Fields: draft.Record{"content": "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Version != 1 {
		t.Errorf("version = %d", e.Version)
	}
	if got := blobs.URL("a/b.png"); got != AttachmentsPath+"/a/b.png" {
		t.Errorf("url = %q", got)
	}
}

func TestWithLogOutput(t *testing.T) {
	var buf bytes.Buffer
	app, err := newApplication([]Option{WithConfig(NewDefaultConfig()), WithLogOutput(&buf)})
	if err != nil {
		t.Fatal(err)
	}
	newLogger(app.logOutputOr(nil), app.config.App.LogLevel).Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("log = %q", buf.String())
	}
}
