// Package editor keeps the open editor sessions of every user and client
// browsing session, and routes each draft to the store its kind is scoped
// to.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kangrianai89/catatan/internal/apperr"
	"github.com/kangrianai89/catatan/internal/draft"
	"github.com/kangrianai89/catatan/internal/models"
)

// Events receives draft notifications for an owner. *sse.Broker
// satisfies it.
type Events interface {
	DraftAutosaved(owner, key string)
	DraftDiscarded(owner, key string)
}

// RemoteFunc returns the authoritative service bound to owner.
type RemoteFunc func(owner string) draft.Remote

type purger interface {
	Purge(before time.Time) (int, error)
}

// Options tune the manager. Zero values fall back to defaults.
type Options struct {
	Debounce      time.Duration
	FetchAttempts uint
	FetchDelay    time.Duration
	// SessionQuota caps the bytes one client session may hold.
	SessionQuota int
	// SessionTTL ends client sessions not seen for this long.
	SessionTTL time.Duration
	// IdleTTL tears down editors not touched for this long.
	IdleTTL time.Duration
	// Retention purges durable drafts older than this; zero keeps them.
	Retention time.Duration
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = draft.DefaultDebounce
	}
	if o.FetchAttempts == 0 {
		o.FetchAttempts = 3
	}
	if o.SessionQuota <= 0 {
		o.SessionQuota = 5 << 20
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 12 * time.Hour
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = time.Hour
	}
}

// Editor is one open editor.
type Editor struct {
	ID       string
	Owner    string
	Client   string
	OpenedAt time.Time

	session  *draft.Session
	lastUsed time.Time
}

// Session returns the lifecycle controller of the editor.
func (e *Editor) Session() *draft.Session { return e.session }

// View returns the editor state with its id.
func (e *Editor) View() View {
	return View{ID: e.ID, View: e.session.View()}
}

// View is the external representation of an editor.
type View struct {
	ID string `json:"id"`
	draft.View
}

type client struct {
	owner    string
	id       string
	store    *draft.MemoryStore
	lastSeen time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	registry *draft.Registry
	durable  draft.Store
	remotes  RemoteFunc
	events   Events
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	editors map[string]*Editor
	clients map[string]*client
}

// New creates a manager. durable backs every durable-scope kind and is
// namespaced per owner; events may be nil.
func New(registry *draft.Registry, durable draft.Store, remotes RemoteFunc, events Events, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts.defaults()
	return &Manager{
		registry: registry,
		durable:  durable,
		remotes:  remotes,
		events:   events,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		editors:  make(map[string]*Editor),
		clients:  make(map[string]*client),
	}
}

// Registry returns the schema registry editors are opened against.
func (m *Manager) Registry() *draft.Registry { return m.registry }

// OpenRequest selects what to edit.
type OpenRequest struct {
	Kind     draft.Kind `json:"kind"`
	EntityID string     `json:"entity_id"`
	ParentID string     `json:"parent_id"`
}

// Open bootstraps a new editor for owner within the client session.
func (m *Manager) Open(ctx context.Context, owner, clientID string, req OpenRequest) (*Editor, error) {
	schema, err := m.registry.Lookup(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	store, err := m.storeFor(owner, clientID, schema.Scope, true)
	if err != nil {
		return nil, err
	}

	logger := m.logger.With(slog.String("owner", owner), slog.String("kind", string(req.Kind)))
	s, err := draft.Open(ctx, draft.Params{
		Schema:        schema,
		EntityID:      req.EntityID,
		ParentID:      req.ParentID,
		Drafts:        draft.NewAdapter(store, logger),
		Remote:        m.remotes(owner),
		Debounce:      m.opts.Debounce,
		FetchAttempts: m.opts.FetchAttempts,
		FetchDelay:    m.opts.FetchDelay,
		Observer:      m.observer(owner),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	now := m.now()
	e := &Editor{
		ID:       uuid.NewString(),
		Owner:    owner,
		Client:   clientID,
		OpenedAt: now,
		session:  s,
		lastUsed: now,
	}
	m.mu.Lock()
	m.editors[e.ID] = e
	m.mu.Unlock()

	logger.Debug("editor opened",
		slog.String("editor_id", e.ID),
		slog.String("draft_key", string(s.Key())),
		slog.String("state", s.State().String()))
	return e, nil
}

// Get returns the editor id of owner and marks it used.
func (m *Manager) Get(owner, id string) (*Editor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.editors[id]
	if !ok || e.Owner != owner {
		return nil, fmt.Errorf("%w: editor %s", apperr.ErrNotFound, id)
	}
	now := m.now()
	e.lastUsed = now
	if c, ok := m.clients[clientKey(owner, e.Client)]; ok {
		c.lastSeen = now
	}
	return e, nil
}

// Close tears the editor down, flushing its pending draft.
func (m *Manager) Close(owner, id string) error {
	m.mu.Lock()
	e, ok := m.editors[id]
	if !ok || e.Owner != owner {
		m.mu.Unlock()
		return fmt.Errorf("%w: editor %s", apperr.ErrNotFound, id)
	}
	delete(m.editors, id)
	m.mu.Unlock()

	e.session.Close()
	return nil
}

// Len returns the number of open editors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.editors)
}

// EndClient ends a client browsing session: its editors are torn down
// and every session-scope draft it held is dropped.
func (m *Manager) EndClient(owner, clientID string) {
	m.mu.Lock()
	var closing []*Editor
	for id, e := range m.editors {
		if e.Owner == owner && e.Client == clientID {
			closing = append(closing, e)
			delete(m.editors, id)
		}
	}
	c := m.clients[clientKey(owner, clientID)]
	delete(m.clients, clientKey(owner, clientID))
	m.mu.Unlock()

	for _, e := range closing {
		e.session.Close()
	}
	if c != nil {
		c.store.Clear()
	}
	m.logger.Debug("client session ended",
		slog.String("owner", owner),
		slog.Int("editors", len(closing)))
}

// PendingDraft reports the draft held for (kind, id, parent), or
// apperr.ErrNotFound when there is none.
func (m *Manager) PendingDraft(owner, clientID string, kind draft.Kind, id, parent string) (*models.DraftSummary, error) {
	schema, err := m.registry.Lookup(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	store, err := m.storeFor(owner, clientID, schema.Scope, false)
	if err != nil {
		return nil, err
	}
	key := draft.ComputeKey(kind, id, parent)
	if store == nil {
		return nil, fmt.Errorf("%w: no draft for %s", apperr.ErrNotFound, key)
	}
	d, err := draft.NewAdapter(store, m.logger).Load(key, schema)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: no draft for %s", apperr.ErrNotFound, key)
	}
	return summary(d), nil
}

// DiscardDraft removes the draft held for (kind, id, parent).
func (m *Manager) DiscardDraft(owner, clientID string, kind draft.Kind, id, parent string) error {
	schema, err := m.registry.Lookup(kind)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	store, err := m.storeFor(owner, clientID, schema.Scope, false)
	if err != nil || store == nil {
		return err
	}
	key := draft.ComputeKey(kind, id, parent)
	if err := draft.NewAdapter(store, m.logger).Discard(key); err != nil {
		return err
	}
	if m.events != nil {
		m.events.DraftDiscarded(owner, string(key))
	}
	return nil
}

// ListDrafts returns every pending draft visible to the client session,
// newest first.
func (m *Manager) ListDrafts(owner, clientID string) ([]models.DraftSummary, error) {
	var stores []draft.Store
	if durable, err := m.storeFor(owner, clientID, draft.ScopeDurable, false); err == nil {
		stores = append(stores, durable)
	}
	if session, err := m.storeFor(owner, clientID, draft.ScopeSession, false); err == nil && session != nil {
		stores = append(stores, session)
	}

	out := []models.DraftSummary{}
	for _, store := range stores {
		l, ok := store.(draft.Lister)
		if !ok {
			continue
		}
		keys, err := l.Keys("draft:")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		adapter := draft.NewAdapter(store, m.logger)
		for _, key := range keys {
			kind, _, _, err := draft.ParseKey(key)
			if err != nil {
				continue
			}
			schema, err := m.registry.Lookup(kind)
			if err != nil {
				continue
			}
			d, err := adapter.Load(key, schema)
			if err != nil || d == nil {
				continue
			}
			out = append(out, *summary(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Sweep tears down idle editors (their drafts are kept) and ends client
// sessions not seen within the session TTL.
func (m *Manager) Sweep() (editors, clients int) {
	now := m.now()
	m.mu.Lock()
	var closing []*Editor
	for id, e := range m.editors {
		if now.Sub(e.lastUsed) >= m.opts.IdleTTL {
			closing = append(closing, e)
			delete(m.editors, id)
		}
	}
	var ended []*client
	for _, c := range m.clients {
		if now.Sub(c.lastSeen) < m.opts.SessionTTL {
			continue
		}
		busy := false
		for _, e := range m.editors {
			if e.Owner == c.owner && e.Client == c.id {
				busy = true
				break
			}
		}
		if !busy {
			ended = append(ended, c)
		}
	}
	m.mu.Unlock()

	for _, e := range closing {
		e.session.Close()
	}
	for _, c := range ended {
		m.EndClient(c.owner, c.id)
	}
	if len(closing) > 0 || len(ended) > 0 {
		m.logger.Info("editor sweep",
			slog.Int("editors_closed", len(closing)),
			slog.Int("sessions_ended", len(ended)))
	}
	return len(closing), len(ended)
}

// Run sweeps every interval and purges expired durable drafts until ctx
// is cancelled, then tears every editor down.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-ticker.C:
			m.Sweep()
			m.purge()
		}
	}
}

func (m *Manager) purge() {
	p, ok := m.durable.(purger)
	if !ok || m.opts.Retention <= 0 {
		return
	}
	n, err := p.Purge(m.now().Add(-m.opts.Retention))
	if err != nil {
		m.logger.Warn("draft purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		m.logger.Info("purged expired drafts", slog.Int("count", n))
	}
}

// Shutdown tears every editor down, flushing pending drafts.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	closing := make([]*Editor, 0, len(m.editors))
	for _, e := range m.editors {
		closing = append(closing, e)
	}
	m.editors = make(map[string]*Editor)
	m.mu.Unlock()

	for _, e := range closing {
		e.session.Close()
	}
}

// storeFor resolves the store of a scope. For the session scope it
// returns nil when the client has no store yet and create is false.
func (m *Manager) storeFor(owner, clientID string, scope draft.Scope, create bool) (draft.Store, error) {
	if scope == draft.ScopeDurable {
		return draft.Namespace(m.durable, owner), nil
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: client session required for %s drafts", apperr.ErrInvalid, scope)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := clientKey(owner, clientID)
	c, ok := m.clients[k]
	if !ok {
		if !create {
			return nil, nil
		}
		c = &client{owner: owner, id: clientID, store: draft.NewMemoryStore(m.opts.SessionQuota)}
		m.clients[k] = c
	}
	c.lastSeen = m.now()
	return c.store, nil
}

func (m *Manager) observer(owner string) draft.Observer {
	if m.events == nil {
		return nil
	}
	return &ownerObserver{owner: owner, events: m.events}
}

type ownerObserver struct {
	owner  string
	events Events
}

func (o *ownerObserver) DraftWritten(key draft.Key)   { o.events.DraftAutosaved(o.owner, string(key)) }
func (o *ownerObserver) DraftDiscarded(key draft.Key) { o.events.DraftDiscarded(o.owner, string(key)) }

func clientKey(owner, clientID string) string { return owner + "\x00" + clientID }

func summary(d *draft.Draft) *models.DraftSummary {
	_, id, parent, _ := draft.ParseKey(d.Key)
	return &models.DraftSummary{
		Key:      d.Key,
		Kind:     d.Kind,
		EntityID: id,
		ParentID: parent,
		BasedOn:  d.BasedOn,
		SavedAt:  d.SavedAt,
	}
}
