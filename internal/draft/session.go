package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// State is the lifecycle state of an editor session.
type State int

const (
	StateBootstrapping State = iota
	StateDraftLoaded
	StateFresh
	StateEditing
	StateSaved
	StateCancelled
	// StateAbandoned is teardown without save or cancel; the draft stays.
	StateAbandoned
)

var stateNames = [...]string{"bootstrapping", "draft_loaded", "fresh", "editing", "saved", "cancelled", "abandoned"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the session accepts no further edits.
func (s State) Terminal() bool {
	return s == StateSaved || s == StateCancelled || s == StateAbandoned
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DefaultDebounce is the autosave window used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// Observer is told about draft writes and discards. Calls happen with the
// session lock held and must not call back into the session.
type Observer interface {
	DraftWritten(key Key)
	DraftDiscarded(key Key)
}

// Params configure Open.
type Params struct {
	Schema   *Schema
	EntityID string
	ParentID string
	Drafts   *Adapter
	Remote   Remote

	Debounce      time.Duration
	FetchAttempts uint
	FetchDelay    time.Duration
	Observer      Observer
	Logger        *slog.Logger
}

// SaveOptions tune Save.
type SaveOptions struct {
	// Force skips the optimistic version check.
	Force bool
}

// Session is the lifecycle controller of one open editor.
type Session struct {
	mu sync.Mutex

	key      Key
	schema   *Schema
	entityID string
	parentID string
	drafts   *Adapter
	remote   Remote
	observer Observer
	logger   *slog.Logger
	debounce time.Duration

	fetchAttempts uint
	fetchDelay    time.Duration

	state     State
	fields    Record
	snapshot  Record
	auth      *Authoritative
	auxMissed bool
	// basedOn is the authoritative version the edits started from. It
	// survives reopening through the stored draft.
	basedOn  string
	hasDraft bool
	autosave  bool
	saving    bool

	gen    uint64
	timer  *time.Timer
	writes int
}

// Open bootstraps an editor session: the draft load and the authoritative
// fetch run concurrently, then the draft wins for editable fields and the
// authoritative entity supplies the rest.
//
// For an existing entity Open fails with apperr.ErrNotFound when the entity
// is gone (its draft is kept), and with apperr.ErrFetchFailed when it
// cannot be fetched and there is no draft to fall back on.
func Open(ctx context.Context, p Params) (*Session, error) {
	if p.Schema == nil || p.Drafts == nil || p.Remote == nil {
		return nil, fmt.Errorf("draft: open: schema, drafts and remote are required")
	}
	if p.EntityID == "" {
		p.EntityID = NewEntity
	}
	if p.Debounce <= 0 {
		p.Debounce = DefaultDebounce
	}
	if p.FetchDelay <= 0 {
		p.FetchDelay = 100 * time.Millisecond
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		key:           ComputeKey(p.Schema.Kind, p.EntityID, p.ParentID),
		schema:        p.Schema,
		entityID:      p.EntityID,
		parentID:      p.ParentID,
		drafts:        p.Drafts,
		remote:        p.Remote,
		observer:      p.Observer,
		debounce:      p.Debounce,
		fetchAttempts: p.FetchAttempts,
		fetchDelay:    p.FetchDelay,
		state:         StateBootstrapping,
		autosave:      true,
	}
	s.logger = logger.With(slog.String("draft_key", string(s.key)))

	existing := s.entityID != NewEntity

	var (
		auth     *Authoritative
		fetchErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if existing {
		g.Go(func() error {
			auth, fetchErr = fetch(gctx, s.remote, s.schema.Kind, s.entityID, s.fetchAttempts, s.fetchDelay)
			return nil
		})
	}
	d, loadErr := s.drafts.Load(s.key, s.schema)
	_ = g.Wait()

	if loadErr != nil {
		s.disableAutosave(loadErr)
		d = nil
	}

	if existing && errors.Is(fetchErr, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s no longer exists", apperr.ErrNotFound, s.schema.Kind, s.entityID)
	}

	if d != nil {
		s.fields = d.Fields
		s.basedOn = d.BasedOn
		s.hasDraft = true
		s.state = StateDraftLoaded
		switch {
		case !existing:
			s.snapshot = s.schema.EmptyRecord()
		case fetchErr != nil:
			s.auxMissed = true
			s.logger.Warn("draft: authoritative fetch failed, editing from draft", slog.String("error", fetchErr.Error()))
		default:
			if err := s.adopt(auth); err != nil {
				return nil, err
			}
			if s.basedOn == "" {
				s.basedOn = s.auth.Version
			}
		}
		return s, nil
	}

	if !existing {
		s.fields = s.schema.EmptyRecord()
		s.snapshot = s.schema.EmptyRecord()
		s.state = StateFresh
		return s, nil
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", apperr.ErrFetchFailed, s.schema.Kind, s.entityID, fetchErr)
	}
	if err := s.adopt(auth); err != nil {
		return nil, err
	}
	s.basedOn = s.auth.Version
	s.fields = s.snapshot.Clone()
	s.state = StateFresh
	return s, nil
}

// adopt records auth as the authoritative snapshot.
func (s *Session) adopt(auth *Authoritative) error {
	fields, err := s.schema.Normalize(auth.Fields)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", apperr.ErrFetchFailed, s.schema.Kind, auth.ID, err)
	}
	a := *auth
	a.Fields = fields
	s.auth = &a
	s.snapshot = fields.Clone()
	s.auxMissed = false
	return nil
}

// Key returns the draft key of the session.
func (s *Session) Key() Key { return s.key }

// Kind returns the kind being edited.
func (s *Session) Kind() Kind { return s.schema.Kind }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fields returns a copy of the current editable fields.
func (s *Session) Fields() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields.Clone()
}

// Writes returns how many draft snapshots the session has persisted.
func (s *Session) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// View is a consistent snapshot of the session for callers.
type View struct {
	Key            Key            `json:"key"`
	Kind           Kind           `json:"kind"`
	EntityID       string         `json:"entity_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	State          State          `json:"state"`
	Fields         Record         `json:"fields"`
	Dirty          bool           `json:"dirty"`
	Autosave       bool           `json:"autosave"`
	AuxUnavailable bool           `json:"aux_unavailable"`
	Authoritative  *Authoritative `json:"authoritative,omitempty"`
}

// View returns the session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Key:            s.key,
		Kind:           s.schema.Kind,
		EntityID:       s.entityID,
		ParentID:       s.parentID,
		State:          s.state,
		Fields:         s.fields.Clone(),
		Dirty:          s.dirtyLocked(),
		Autosave:       s.autosave,
		AuxUnavailable: s.auxMissed,
	}
	if s.auth != nil {
		a := *s.auth
		a.Fields = s.auth.Fields.Clone()
		v.Authoritative = &a
	}
	return v
}

func (s *Session) dirtyLocked() bool {
	if s.snapshot == nil {
		return s.schema.Meaningful(s.fields)
	}
	return !equalRecords(s.fields, s.snapshot)
}

// Update applies a field patch and schedules a debounced draft write.
func (s *Session) Update(patch Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	fields, err := s.schema.Merge(s.fields, patch)
	if err != nil {
		return err
	}
	s.fields = fields
	s.state = StateEditing
	s.scheduleLocked()
	return nil
}

// Flush writes a pending snapshot now.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return apperr.ErrSessionClosed
	}
	if s.stopTimerLocked() {
		s.persistLocked()
	}
	return nil
}

// Save commits the current fields to the authoritative service. The draft
// is deleted only after the write is confirmed; on failure it is kept and
// refreshed so the edit survives a retry.
func (s *Session) Save(ctx context.Context, opts SaveOptions) (*Authoritative, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	fields := s.fields.Clone()
	if err := s.schema.Validate(fields); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	req := SaveRequest{
		Kind:     s.schema.Kind,
		EntityID: s.entityID,
		ParentID: s.parentID,
		Fields:   fields,
	}
	if s.auth != nil {
		req.ParentID = s.auth.ParentID
	}
	if !opts.Force {
		req.IfVersion = s.basedOn
	}
	s.stopTimerLocked()
	s.saving = true
	s.mu.Unlock()

	saved, err := s.remote.Save(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		s.logger.Error("draft: save failed", slog.String("error", err.Error()))
		if s.hasDraft || s.dirtyLocked() {
			s.persistLocked()
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrSaveFailed, err)
	}

	if derr := s.drafts.Discard(s.key); derr != nil {
		s.logger.Warn("draft: saved but draft not removed", slog.String("error", derr.Error()))
	} else {
		s.hasDraft = false
		if s.observer != nil {
			s.observer.DraftDiscarded(s.key)
		}
	}
	if s.state == StateAbandoned {
		// Torn down while saving: nothing is displaying this session.
		return saved, nil
	}
	if err := s.adopt(saved); err != nil {
		return nil, err
	}
	s.entityID = saved.ID
	s.basedOn = s.auth.Version
	s.fields = s.snapshot.Clone()
	s.state = StateSaved
	return saved, nil
}

// Cancel discards the draft and restores the last authoritative snapshot,
// re-fetched when possible. Creation flows reset to empty defaults. When
// there is no snapshot to restore and the re-fetch fails, the fields are
// reset to empty defaults and apperr.ErrFetchFailed is returned; the
// client re-opens the editor to retry.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopTimerLocked()
	if err := s.drafts.Discard(s.key); err == nil {
		s.hasDraft = false
		if s.observer != nil {
			s.observer.DraftDiscarded(s.key)
		}
	}
	s.state = StateCancelled
	existing := s.entityID != NewEntity
	s.mu.Unlock()

	var (
		auth *Authoritative
		err  error
	)
	if existing {
		auth, err = fetch(ctx, s.remote, s.schema.Kind, s.entityID, s.fetchAttempts, s.fetchDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !existing:
		s.fields = s.schema.EmptyRecord()
	case err != nil && s.snapshot == nil:
		s.logger.Warn("draft: refetch on cancel failed, nothing to restore", slog.String("error", err.Error()))
		s.fields = s.schema.EmptyRecord()
		return fmt.Errorf("%w: %s %s: %v", apperr.ErrFetchFailed, s.schema.Kind, s.entityID, err)
	case err != nil:
		s.logger.Warn("draft: refetch on cancel failed, restoring last snapshot", slog.String("error", err.Error()))
		s.fields = s.snapshot.Clone()
	default:
		if aerr := s.adopt(auth); aerr != nil {
			s.logger.Warn("draft: refetched entity unreadable", slog.String("error", aerr.Error()))
		} else {
			s.basedOn = s.auth.Version
		}
		if s.snapshot != nil {
			s.fields = s.snapshot.Clone()
		} else {
			s.fields = s.schema.EmptyRecord()
		}
	}
	return nil
}

// Close tears the session down without saving or cancelling. A pending
// debounced write is flushed so the last edits are not lost. Close is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTimerLocked() {
		s.persistLocked()
	}
	if !s.state.Terminal() {
		s.state = StateAbandoned
	}
}

func (s *Session) usableLocked() error {
	if s.state.Terminal() {
		return fmt.Errorf("%w: %s", apperr.ErrSessionClosed, s.state)
	}
	if s.saving {
		return fmt.Errorf("%w: save in progress", apperr.ErrConflict)
	}
	return nil
}

// scheduleLocked restarts the debounce timer. The generation captured by
// the callback makes any superseded timer a no-op even if it already
// fired and is waiting for the lock.
func (s *Session) scheduleLocked() {
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.timer == nil {
		return
	}
	s.timer = nil
	s.persistLocked()
}

// stopTimerLocked cancels the pending write and reports whether there was
// one.
func (s *Session) stopTimerLocked() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	return true
}

func (s *Session) persistLocked() {
	if !s.autosave {
		return
	}
	stored, err := s.drafts.Save(s.key, s.schema, s.fields, s.basedOn)
	if err != nil {
		s.disableAutosave(err)
		return
	}
	s.writes++
	s.hasDraft = stored
	if s.observer == nil {
		return
	}
	if stored {
		s.observer.DraftWritten(s.key)
	} else {
		s.observer.DraftDiscarded(s.key)
	}
}

func (s *Session) disableAutosave(err error) {
	if !s.autosave {
		return
	}
	s.autosave = false
	s.logger.Warn("draft: autosave disabled for this session", slog.String("error", err.Error()))
}

func equalRecords(a, b Record) bool {
	return reflect.DeepEqual(a, b)
}
