package draft

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kangrianai89/catatan/internal/apperr"
)

func TestAdapter_RoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	a := NewAdapter(store, nil)
	schema := testSchema(t, KindAsset)
	key := ComputeKey(KindAsset, "a1", "")

	r := Record{
		"title":       "Logo",
		"description": "brand mark",
		"categoryId":  "c9",
		"links":       []any{"https://example.com/logo"},
		"snippets":    []any{map[string]any{"language": "go", "code": "fmt.Println()"}},
	}
	stored, err := a.Save(key, schema, r, "v1")
	if err != nil || !stored {
		t.Fatalf("Save = %v, %v", stored, err)
	}
	d, err := a.Load(key, schema)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d == nil {
		t.Fatal("Load returned no draft")
	}
	if !reflect.DeepEqual(d.Fields, r) {
		t.Errorf("fields = %#v, want %#v", d.Fields, r)
	}
	if d.BasedOn != "v1" || d.Kind != KindAsset {
		t.Errorf("envelope = %+v", d)
	}
}

func TestAdapter_EmptyRecordNotPersisted(t *testing.T) {
	store := NewMemoryStore(0)
	a := NewAdapter(store, nil)
	schema := testSchema(t, KindQuickNote)
	key := ComputeKey(KindQuickNote, NewEntity, "f1")

	stored, err := a.Save(key, schema, Record{"title": "", "content": "<p></p>"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if stored || store.Len() != 0 {
		t.Fatal("empty record was persisted")
	}

	// Clearing a previously meaningful draft removes it.
	if _, err := a.Save(key, schema, Record{"title": "x"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Save(key, schema, Record{"title": ""}, ""); err != nil {
		t.Fatal(err)
	}
	if d, _ := a.Load(key, schema); d != nil {
		t.Errorf("cleared draft still loads: %+v", d)
	}
}

func TestAdapter_CorruptDraftSelfHeals(t *testing.T) {
	store := NewMemoryStore(0)
	a := NewAdapter(store, nil)
	schema := testSchema(t, KindNote)
	key := ComputeKey(KindNote, "n1", "")

	for _, raw := range []string{
		"{not json",
		`{"v":99,"kind":"note","fields":{"title":"x"}}`,
		`{"v":1,"kind":"asset","fields":{"title":"x"}}`,
		`{"v":1,"kind":"note","fields":{"bogus":"x"}}`,
	} {
		_ = store.Set(key, []byte(raw))
		d, err := a.Load(key, schema)
		if err != nil || d != nil {
			t.Errorf("Load(%s) = %v, %v; want absent", raw, d, err)
		}
		if _, ok, _ := store.Get(key); ok {
			t.Errorf("corrupt entry %s not deleted", raw)
		}
	}
}

func TestAdapter_QuotaExceeded(t *testing.T) {
	store := NewMemoryStore(16)
	a := NewAdapter(store, nil)
	schema := testSchema(t, KindNote)
	_, err := a.Save(ComputeKey(KindNote, "n1", ""), schema, Record{"title": "far too long for the quota"}, "")
	if !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestMemoryStore_CopiesAndKeys(t *testing.T) {
	m := NewMemoryStore(0)
	buf := []byte("abc")
	_ = m.Set("draft:note:a", buf)
	buf[0] = 'x'
	got, ok, _ := m.Get("draft:note:a")
	if !ok || string(got) != "abc" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	_ = m.Set("draft:asset:b", []byte("1"))
	keys, _ := m.Keys("draft:note:")
	if len(keys) != 1 || keys[0] != "draft:note:a" {
		t.Errorf("Keys = %v", keys)
	}
	m.Clear()
	if m.Len() != 0 {
		t.Error("Clear left entries")
	}
}

func TestNamespace_IsolatesOwners(t *testing.T) {
	inner := NewMemoryStore(0)
	alice := Namespace(inner, "alice")
	bob := Namespace(inner, "bob")
	key := ComputeKey(KindQuickNote, NewEntity, "")

	_ = alice.Set(key, []byte("a"))
	if _, ok, _ := bob.Get(key); ok {
		t.Fatal("bob sees alice's draft")
	}
	keys, err := alice.(Lister).Keys("draft:")
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Errorf("Keys = %v, %v", keys, err)
	}
}

func TestSplitNamespace(t *testing.T) {
	inner := NewMemoryStore(0)
	key := ComputeKey(KindNote, "n1", "")
	_ = Namespace(inner, "a|b c").Set(key, []byte("x"))
	raw, _ := inner.Keys("")
	if len(raw) != 1 {
		t.Fatalf("raw keys = %v", raw)
	}
	ns, k, ok := SplitNamespace(raw[0])
	if !ok || ns != "a|b c" || k != key {
		t.Errorf("SplitNamespace(%q) = %q, %q, %v", raw[0], ns, k, ok)
	}
	if _, _, ok := SplitNamespace(key); ok {
		t.Error("plain key reported as namespaced")
	}
}
