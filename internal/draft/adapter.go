package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kangrianai89/catatan/internal/apperr"
)

const envelopeVersion = 1

// Draft is a decoded draft as stored under its key.
type Draft struct {
	Key     Key       `json:"key"`
	Kind    Kind      `json:"kind"`
	Fields  Record    `json:"fields"`
	BasedOn string    `json:"based_on,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

type envelope struct {
	Version int       `json:"v"`
	Kind    Kind      `json:"kind"`
	Fields  Record    `json:"fields"`
	BasedOn string    `json:"based_on,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Adapter encodes records into a Store and applies the draft rules every
// editor shares: non-meaningful records are never persisted, corrupt
// entries read as absent and are removed, storage failures are logged and
// reported as apperr.ErrStorageUnavailable.
type Adapter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter wraps store. A nil logger discards log output.
func NewAdapter(store Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{store: store, logger: logger, now: time.Now}
}

// Load returns the meaningful draft stored under key, or nil when there
// is none.
func (a *Adapter) Load(key Key, schema *Schema) (*Draft, error) {
	raw, ok, err := a.store.Get(key)
	if err != nil {
		a.logger.Warn("draft: read failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		return nil, storageErr(err)
	}
	if !ok {
		return nil, nil
	}
	d, err := decode(key, raw, schema)
	if err != nil {
		a.logger.Warn("draft: discarding unreadable draft", slog.String("key", string(key)), slog.String("error", err.Error()))
		a.remove(key)
		return nil, nil
	}
	if !schema.Meaningful(d.Fields) {
		a.remove(key)
		return nil, nil
	}
	return d, nil
}

// Save writes fields under key. A record without meaningful content
// deletes the entry instead, so empty editors never leave phantom drafts.
// It reports whether an entry now exists.
func (a *Adapter) Save(key Key, schema *Schema, fields Record, basedOn string) (bool, error) {
	fields, err := schema.Normalize(fields)
	if err != nil {
		return false, err
	}
	if !schema.Meaningful(fields) {
		if err := a.store.Delete(key); err != nil {
			return false, storageErr(err)
		}
		return false, nil
	}
	data, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Kind:    schema.Kind,
		Fields:  fields,
		BasedOn: basedOn,
		SavedAt: a.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: encode: %v", apperr.ErrInvalid, err)
	}
	if err := a.store.Set(key, data); err != nil {
		a.logger.Warn("draft: write failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		return false, storageErr(err)
	}
	return true, nil
}

// Discard removes the draft under key.
func (a *Adapter) Discard(key Key) error {
	if err := a.store.Delete(key); err != nil {
		a.logger.Warn("draft: delete failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		return storageErr(err)
	}
	return nil
}

func (a *Adapter) remove(key Key) {
	if err := a.store.Delete(key); err != nil {
		a.logger.Warn("draft: delete failed", slog.String("key", string(key)), slog.String("error", err.Error()))
	}
}

func decode(key Key, raw []byte, schema *Schema) (*Draft, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDraftCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", apperr.ErrDraftCorrupt, env.Version)
	}
	if env.Kind != schema.Kind {
		return nil, fmt.Errorf("%w: kind %q, want %q", apperr.ErrDraftCorrupt, env.Kind, schema.Kind)
	}
	fields, err := schema.Normalize(env.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrDraftCorrupt, err)
	}
	return &Draft{
		Key:     key,
		Kind:    env.Kind,
		Fields:  fields,
		BasedOn: env.BasedOn,
		SavedAt: env.SavedAt,
	}, nil
}

// Decode parses a raw stored value. It is exported for stores and
// watchers that surface drafts they did not write themselves.
func Decode(key Key, raw []byte, schema *Schema) (*Draft, error) {
	return decode(key, raw, schema)
}

func storageErr(err error) error {
	if errors.Is(err, apperr.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
}
