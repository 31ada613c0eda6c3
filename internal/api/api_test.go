package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/editor"
	"github.com/kangrianai89/catatan/internal/models"
	"github.com/kangrianai89/catatan/internal/sse"
	"github.com/kangrianai89/catatan/internal/testutil"
)

const client = "tab-1"

// testEnv wires the API over a temporary database, attachment store and
// in-memory durable draft store. token "" means auth disabled.
func testEnv(t *testing.T, token string) http.Handler {
	t.Helper()
	svc, _, blobs := testutil.TestService(t)
	broker := sse.NewBroker(time.Second, Owner)
	t.Cleanup(broker.Close)
	mgr := editor.New(draft.DefaultRegistry(), draft.NewMemoryStore(0), svc.Remote, broker, nil, editor.Options{
		Debounce:      20 * time.Millisecond,
		FetchAttempts: 1,
	})
	t.Cleanup(mgr.Shutdown)

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(Deps{Entities: svc, Editors: mgr, Events: broker}, AuthOptions{
		Enabled: token != "",
		Token:   token,
		User:    "alice",
	}))
	r.Get("/attachments/*", NewAttachmentHandler(blobs).ServeFile)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(SessionHeader, client)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type editorResp struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	EntityID       string         `json:"entity_id"`
	State          string         `json:"state"`
	Fields         map[string]any `json:"fields"`
	AuxUnavailable bool           `json:"aux_unavailable"`
	Authoritative  *struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"authoritative"`
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, want, w.Body.String())
	}
}

func createEntity(t *testing.T, h http.Handler, kind draft.Kind, parent string, fields draft.Record) models.Entity {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/entities", CreateEntityRequest{Kind: kind, ParentID: parent, Fields: fields})
	mustStatus(t, w, http.StatusCreated)
	return decode[models.Entity](t, w)
}

func openEditor(t *testing.T, h http.Handler, req OpenEditorRequest) editorResp {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/editors", req)
	mustStatus(t, w, http.StatusCreated)
	return decode[editorResp](t, w)
}

func patchEditor(t *testing.T, h http.Handler, id string, fields draft.Record) {
	t.Helper()
	mustStatus(t, do(t, h, http.MethodPatch, "/api/editors/"+id, UpdateEditorRequest{Fields: fields}), http.StatusOK)
	mustStatus(t, do(t, h, http.MethodPost, "/api/editors/"+id+"/flush", nil), http.StatusOK)
}

func TestEntityCRUD(t *testing.T) {
	h := testEnv(t, "")

	folder := createEntity(t, h, draft.KindFolder, "", draft.Record{"name": "Recipes"})
	note := createEntity(t, h, draft.KindNote, folder.ID, draft.Record{"title": "Soup", "content": "<p>leek #winter</p>"})

	w := do(t, h, http.MethodGet, "/api/entities/"+note.ID, nil)
	mustStatus(t, w, http.StatusOK)
	got := decode[models.Entity](t, w)
	if got.Title != "Soup" || got.ParentID != folder.ID || got.Version != 1 {
		t.Errorf("entity = %+v", got)
	}

	// Stale If-Match conflicts.
	req := httptest.NewRequest(http.MethodPut, "/api/entities/"+note.ID, strings.NewReader(`{"fields":{"title":"Stew"}}`))
	req.Header.Set("If-Match", `"7"`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	mustStatus(t, rec, http.StatusConflict)

	w = do(t, h, http.MethodPut, "/api/entities/"+note.ID, UpdateEntityRequest{Fields: draft.Record{"title": "Stew"}, Version: 1})
	mustStatus(t, w, http.StatusOK)
	if up := decode[models.Entity](t, w); up.Title != "Stew" || up.Version != 2 {
		t.Errorf("updated = %+v", up)
	}

	w = do(t, h, http.MethodGet, "/api/entities?kind=note&parent="+folder.ID+"&tag=winter", nil)
	mustStatus(t, w, http.StatusOK)
	if list := decode[EntityListResponse](t, w); list.Total != 1 || list.Entities[0].ID != note.ID {
		t.Errorf("list = %+v", list)
	}

	w = do(t, h, http.MethodGet, "/api/search?q=leek", nil)
	mustStatus(t, w, http.StatusOK)
	if res := decode[SearchResponse](t, w); len(res.Results) != 1 {
		t.Errorf("search = %+v", res)
	}

	mustStatus(t, do(t, h, http.MethodDelete, "/api/entities/"+folder.ID, nil), http.StatusConflict)
	mustStatus(t, do(t, h, http.MethodDelete, "/api/entities/"+note.ID, nil), http.StatusNoContent)
	mustStatus(t, do(t, h, http.MethodGet, "/api/entities/"+note.ID, nil), http.StatusNotFound)
}

func TestEntityErrors(t *testing.T) {
	h := testEnv(t, "")
	mustStatus(t, do(t, h, http.MethodPost, "/api/entities", CreateEntityRequest{Kind: "spaceship"}), http.StatusUnprocessableEntity)
	mustStatus(t, do(t, h, http.MethodPost, "/api/entities", CreateEntityRequest{Kind: draft.KindWebLink, Fields: draft.Record{"url": "not a url"}}), http.StatusUnprocessableEntity)
	mustStatus(t, do(t, h, http.MethodPost, "/api/entities", CreateEntityRequest{Kind: draft.KindNote, ParentID: "ghost", Fields: draft.Record{"title": "x"}}), http.StatusNotFound)
	mustStatus(t, do(t, h, http.MethodPut, "/api/entities/ghost", UpdateEntityRequest{Fields: draft.Record{"title": "x"}}), http.StatusNotFound)
	mustStatus(t, do(t, h, http.MethodGet, "/api/search", nil), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/entities", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	mustStatus(t, w, http.StatusBadRequest)
}

func TestAuthMiddleware(t *testing.T) {
	h := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}

	h = testEnv(t, "")
	if w := do(t, h, http.MethodGet, "/api/entities", nil); w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

func TestClientSessionCookie(t *testing.T) {
	h := testEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	mustStatus(t, w, http.StatusOK)

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			issued = c
		}
	}
	if issued == nil || issued.Value == "" || !issued.Expires.IsZero() || issued.MaxAge != 0 {
		t.Fatalf("session cookie = %+v", issued)
	}

	// The cookie selects the same session-scope store on the next request.
	open := func(cookie *http.Cookie) editorResp {
		body, _ := json.Marshal(OpenEditorRequest{Kind: draft.KindNote})
		req := httptest.NewRequest(http.MethodPost, "/api/editors", bytes.NewReader(body))
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		mustStatus(t, w, http.StatusCreated)
		return decode[editorResp](t, w)
	}
	e := open(issued)
	body, _ := json.Marshal(UpdateEditorRequest{Fields: draft.Record{"title": "cookie"}})
	req = httptest.NewRequest(http.MethodPatch, "/api/editors/"+e.ID, bytes.NewReader(body))
	req.AddCookie(issued)
	h.ServeHTTP(httptest.NewRecorder(), req)
	req = httptest.NewRequest(http.MethodDelete, "/api/editors/"+e.ID, nil)
	req.AddCookie(issued)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if again := open(issued); again.State != "draft_loaded" || again.Fields["title"] != "cookie" {
		t.Errorf("reopened = %+v", again)
	}
}

// A quick note drafted under a folder survives teardown and is resumed at
// the same key, then saved and its draft removed.
func TestQuickNoteDraftResumedAndSaved(t *testing.T) {
	h := testEnv(t, "")
	folder := createEntity(t, h, draft.KindFolder, "", draft.Record{"name": "f1"})

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindQuickNote, ParentID: folder.ID})
	if e.State != "fresh" {
		t.Fatalf("state = %s", e.State)
	}
	mustStatus(t, do(t, h, http.MethodPatch, "/api/editors/"+e.ID, UpdateEditorRequest{Fields: draft.Record{"title": "Buy milk"}}), http.StatusOK)
	// Teardown before the debounce fires still writes the draft.
	mustStatus(t, do(t, h, http.MethodDelete, "/api/editors/"+e.ID, nil), http.StatusNoContent)

	draftPath := "/api/drafts/quick-note/new?parent=" + folder.ID
	w := do(t, h, http.MethodGet, draftPath, nil)
	mustStatus(t, w, http.StatusOK)
	if d := decode[models.DraftSummary](t, w); d.ParentID != folder.ID || d.EntityID != draft.NewEntity {
		t.Errorf("draft = %+v", d)
	}
	// The draft is scoped to its parent.
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/quick-note/new", nil), http.StatusNotFound)

	e = openEditor(t, h, OpenEditorRequest{Kind: draft.KindQuickNote, ParentID: folder.ID})
	if e.State != "draft_loaded" || e.Fields["title"] != "Buy milk" {
		t.Fatalf("resumed = %+v", e)
	}
	w = do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/save", nil)
	mustStatus(t, w, http.StatusOK)
	saved := decode[editorResp](t, w)
	if saved.State != "saved" || saved.Authoritative == nil || saved.EntityID == draft.NewEntity {
		t.Fatalf("saved = %+v", saved)
	}
	mustStatus(t, do(t, h, http.MethodGet, draftPath, nil), http.StatusNotFound)

	w = do(t, h, http.MethodGet, "/api/entities?parent="+folder.ID, nil)
	if list := decode[EntityListResponse](t, w); list.Total != 1 || list.Entities[0].Title != "Buy milk" {
		t.Errorf("folder contents = %+v", list)
	}
	// Saved editors reject further edits.
	mustStatus(t, do(t, h, http.MethodPatch, "/api/editors/"+e.ID, UpdateEditorRequest{Fields: draft.Record{"title": "x"}}), http.StatusConflict)
}

// An editor that disappears without teardown leaves its flushed draft,
// which wins over the authoritative content on the next open.
func TestCrashRecovery(t *testing.T) {
	h := testEnv(t, "")
	note := createEntity(t, h, draft.KindNote, "", draft.Record{"title": "n42", "content": "<p>v1</p>"})

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindNote, EntityID: note.ID})
	if e.State != "fresh" || e.Fields["content"] != "<p>v1</p>" {
		t.Fatalf("open = %+v", e)
	}
	patchEditor(t, h, e.ID, draft.Record{"content": "<p>v2 unsaved</p>"})

	again := openEditor(t, h, OpenEditorRequest{Kind: draft.KindNote, EntityID: note.ID})
	if again.State != "draft_loaded" || again.Fields["content"] != "<p>v2 unsaved</p>" || again.Fields["title"] != "n42" {
		t.Fatalf("recovered = %+v", again)
	}
	if again.Authoritative == nil || again.Authoritative.Version != "1" {
		t.Errorf("authoritative = %+v", again.Authoritative)
	}
	w := do(t, h, http.MethodGet, "/api/entities/"+note.ID, nil)
	if got := decode[models.Entity](t, w); got.Fields.String("content") != "<p>v1</p>" {
		t.Errorf("autosave touched the entity: %+v", got)
	}
}

func TestSaveConflictKeepsDraft(t *testing.T) {
	h := testEnv(t, "")
	note := createEntity(t, h, draft.KindNote, "", draft.Record{"title": "shared"})

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindNote, EntityID: note.ID})
	patchEditor(t, h, e.ID, draft.Record{"title": "mine"})

	// Someone else updates the entity meanwhile.
	mustStatus(t, do(t, h, http.MethodPut, "/api/entities/"+note.ID, UpdateEntityRequest{Fields: draft.Record{"title": "theirs"}}), http.StatusOK)

	mustStatus(t, do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/save", nil), http.StatusConflict)
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/note/"+note.ID, nil), http.StatusOK)

	mustStatus(t, do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/save?force=true", nil), http.StatusOK)
	w := do(t, h, http.MethodGet, "/api/entities/"+note.ID, nil)
	if got := decode[models.Entity](t, w); got.Title != "mine" || got.Version != 3 {
		t.Errorf("forced save = %+v", got)
	}
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/note/"+note.ID, nil), http.StatusNotFound)
}

func TestCancelRestoresAuthoritative(t *testing.T) {
	h := testEnv(t, "")
	link := createEntity(t, h, draft.KindWebLink, "", draft.Record{"url": "https://go.dev", "title": "Go"})

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindWebLink, EntityID: link.ID})
	patchEditor(t, h, e.ID, draft.Record{"title": "Scratch"})

	w := do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/cancel", nil)
	mustStatus(t, w, http.StatusOK)
	if c := decode[editorResp](t, w); c.State != "cancelled" || c.Fields["title"] != "Go" {
		t.Errorf("cancelled = %+v", c)
	}
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/web-link/"+link.ID, nil), http.StatusNotFound)
}

func TestOpenDeletedEntityKeepsDraft(t *testing.T) {
	h := testEnv(t, "")
	q := createEntity(t, h, draft.KindQuickNote, "", draft.Record{"title": "gone soon"})

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindQuickNote, EntityID: q.ID})
	patchEditor(t, h, e.ID, draft.Record{"content": "still typing"})
	mustStatus(t, do(t, h, http.MethodDelete, "/api/editors/"+e.ID, nil), http.StatusNoContent)
	mustStatus(t, do(t, h, http.MethodDelete, "/api/entities/"+q.ID, nil), http.StatusNoContent)

	mustStatus(t, do(t, h, http.MethodPost, "/api/editors", OpenEditorRequest{Kind: draft.KindQuickNote, EntityID: q.ID}), http.StatusNotFound)
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/quick-note/"+q.ID, nil), http.StatusOK)

	mustStatus(t, do(t, h, http.MethodDelete, "/api/drafts/quick-note/"+q.ID, nil), http.StatusNoContent)
	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/quick-note/"+q.ID, nil), http.StatusNotFound)
}

func TestEditorErrors(t *testing.T) {
	h := testEnv(t, "")
	mustStatus(t, do(t, h, http.MethodPost, "/api/editors", OpenEditorRequest{Kind: "spaceship"}), http.StatusUnprocessableEntity)
	mustStatus(t, do(t, h, http.MethodGet, "/api/editors/nope", nil), http.StatusNotFound)

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindFolder})
	mustStatus(t, do(t, h, http.MethodPatch, "/api/editors/"+e.ID, UpdateEditorRequest{Fields: draft.Record{"colour": "red"}}), http.StatusUnprocessableEntity)
	// Folders need a name to save.
	mustStatus(t, do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/save", nil), http.StatusUnprocessableEntity)
}

func TestEndSessionDropsSessionDrafts(t *testing.T) {
	h := testEnv(t, "")
	note := openEditor(t, h, OpenEditorRequest{Kind: draft.KindNote})
	quick := openEditor(t, h, OpenEditorRequest{Kind: draft.KindQuickNote})
	patchEditor(t, h, note.ID, draft.Record{"title": "tab only"})
	patchEditor(t, h, quick.ID, draft.Record{"title": "keeps"})

	w := do(t, h, http.MethodGet, "/api/drafts", nil)
	if list := decode[DraftListResponse](t, w); len(list.Drafts) != 2 {
		t.Fatalf("drafts = %+v", list)
	}

	mustStatus(t, do(t, h, http.MethodDelete, "/api/session", nil), http.StatusNoContent)
	mustStatus(t, do(t, h, http.MethodGet, "/api/editors/"+note.ID, nil), http.StatusNotFound)

	w = do(t, h, http.MethodGet, "/api/drafts", nil)
	list := decode[DraftListResponse](t, w)
	if len(list.Drafts) != 1 || list.Drafts[0].Kind != draft.KindQuickNote {
		t.Errorf("after session end = %+v", list)
	}
}

func uploadBlob(t *testing.T, h http.Handler, id, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/entities/"+id+"/blob", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(SessionHeader, client)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Swapping an image while an edit is in progress leaves the draft and the
// editable fields alone.
func TestSwapBlobDuringEdit(t *testing.T) {
	h := testEnv(t, "")
	asset := createEntity(t, h, draft.KindAsset, "", draft.Record{"title": "Logo"})
	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindAsset, EntityID: asset.ID})
	patchEditor(t, h, e.ID, draft.Record{"description": "new tagline"})

	w := uploadBlob(t, h, asset.ID, "logo.png", testutil.PNG)
	mustStatus(t, w, http.StatusOK)
	swapped := decode[models.Entity](t, w)
	if !strings.HasPrefix(swapped.BlobURL, "/attachments/") || swapped.Version != asset.Version {
		t.Fatalf("swapped = %+v", swapped)
	}

	mustStatus(t, do(t, h, http.MethodGet, "/api/drafts/asset/"+asset.ID, nil), http.StatusOK)
	w = do(t, h, http.MethodGet, "/api/editors/"+e.ID, nil)
	if v := decode[editorResp](t, w); v.Fields["description"] != "new tagline" {
		t.Errorf("editor fields = %+v", v.Fields)
	}
	// The editor still saves against the unchanged version.
	mustStatus(t, do(t, h, http.MethodPost, "/api/editors/"+e.ID+"/save", nil), http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, swapped.BlobURL, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	mustStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Content-Type") != "image/png" || !bytes.Equal(rec.Body.Bytes(), testutil.PNG) {
		t.Errorf("served %q, %d bytes", rec.Header().Get("Content-Type"), rec.Body.Len())
	}

	mustStatus(t, uploadBlob(t, h, asset.ID, "evil.exe", testutil.PNG), http.StatusUnprocessableEntity)
}

func TestServeAttachment_NotFoundAndTraversal(t *testing.T) {
	h := testEnv(t, "")
	for path, want := range map[string]int{
		"/attachments/alice/x/missing.png":  http.StatusNotFound,
		"/attachments/..%2F..%2Fetc/passwd": http.StatusBadRequest,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("GET %s = %d, want %d", path, w.Code, want)
		}
	}
}

func TestKinds(t *testing.T) {
	h := testEnv(t, "")
	w := do(t, h, http.MethodGet, "/api/kinds", nil)
	mustStatus(t, w, http.StatusOK)
	kinds := decode[[]KindInfo](t, w)
	scopes := map[draft.Kind]draft.Scope{}
	for _, k := range kinds {
		scopes[k.Kind] = k.Scope
	}
	if scopes[draft.KindNote] != draft.ScopeSession || scopes[draft.KindQuickNote] != draft.ScopeDurable {
		t.Errorf("scopes = %v", scopes)
	}
	if len(kinds) != 6 {
		t.Errorf("kinds = %d, want 6", len(kinds))
	}
}

func TestSSEEvents(t *testing.T) {
	h := testEnv(t, "tok")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("SSE with token = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestDraftAutosavedEvent(t *testing.T) {
	h := testEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(stream, req)
	}()
	time.Sleep(30 * time.Millisecond)

	e := openEditor(t, h, OpenEditorRequest{Kind: draft.KindQuickNote})
	mustStatus(t, do(t, h, http.MethodPatch, "/api/editors/"+e.ID, UpdateEditorRequest{Fields: draft.Record{"title": "ping"}}), http.StatusOK)
	// Wait past the debounce for the timer-driven write.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := stream.Body.String()
	if !strings.Contains(body, "event: "+sse.TypeDraftAutosaved) || !strings.Contains(body, strconv.Quote(e.Key)) {
		t.Errorf("stream = %q", body)
	}
}
