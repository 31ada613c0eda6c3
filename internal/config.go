package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/kangrianai89/catatan/internal/blob"
	"github.com/kangrianai89/catatan/internal/draftstore"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Blob backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Drafts DraftsConfig      `yaml:"drafts"`
	Blob   BlobConfig        `yaml:"blob"`
	Auth   AuthConfig        `yaml:"auth"`
	AI     AIConfig          `yaml:"ai"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.SQLite, &c.Drafts, &c.Blob, &c.Auth, &c.AI} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the authoritative entity database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// DraftsConfig holds the durable draft store and editor lifecycle settings.
type DraftsConfig struct {
	Backend           string        `yaml:"backend"`
	SQLitePath        string        `yaml:"sqlite_path"`
	FSDir             string        `yaml:"fs_dir"`
	Debounce          time.Duration `yaml:"debounce"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	EditorIdleTTL     time.Duration `yaml:"editor_idle_ttl"`
	SessionQuotaBytes int           `yaml:"session_quota_bytes"`
	FetchAttempts     uint          `yaml:"fetch_attempts"`
	// Retention purges durable drafts older than this; zero keeps them.
	Retention time.Duration `yaml:"retention"`
}

// Validate validates the drafts configuration.
func (c *DraftsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(draftstore.BackendSQLite, draftstore.BackendFS)),
		validation.Field(&c.SQLitePath, validation.When(c.Backend == draftstore.BackendSQLite, validation.Required)),
		validation.Field(&c.FSDir, validation.When(c.Backend == draftstore.BackendFS, validation.Required)),
		validation.Field(&c.Debounce, validation.Min(300*time.Millisecond), validation.Max(800*time.Millisecond)),
		validation.Field(&c.SessionTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.EditorIdleTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.SessionQuotaBytes, validation.Min(0)),
		validation.Field(&c.FetchAttempts, validation.Max(uint(10))),
		validation.Field(&c.Retention, validation.Min(time.Duration(0))),
	)
}

// BlobConfig selects the attachment backend.
type BlobConfig struct {
	Backend       string   `yaml:"backend"`
	FSDir         string   `yaml:"fs_dir"`
	PublicBaseURL string   `yaml:"public_base_url"`
	S3            S3Config `yaml:"s3"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BlobBackendFS, BlobBackendS3)),
		validation.Field(&c.FSDir, validation.When(c.Backend == BlobBackendFS, validation.Required)),
	); err != nil {
		return err
	}
	if c.Backend == BlobBackendS3 {
		return c.S3.Validate()
	}
	return nil
}

// AttachmentsPath is where the FS backend is served.
const AttachmentsPath = "/attachments"

// Options converts the section into blob backend options.
func (c *BlobConfig) Options() blob.Options {
	fsURL := c.PublicBaseURL
	if fsURL == "" {
		fsURL = AttachmentsPath
	}
	return blob.Options{
		Backend: c.Backend,
		FSDir:   c.FSDir,
		FSURL:   fsURL,
		S3: blob.S3Options{
			Bucket:          c.S3.Bucket,
			Endpoint:        c.S3.Endpoint,
			Region:          c.S3.Region,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			PublicBaseURL:   c.PublicBaseURL,
		},
	}
}

// S3Config holds the S3 bucket settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// User names the owner every request acts as.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
	User  string `yaml:"user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.User, validation.Required, validation.Length(1, 64)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// AIConfig holds the generation endpoint. An empty APIKey disables
// /api/ai/generate.
type AIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	RetryAttempts uint          `yaml:"retry_attempts"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.RetryAttempts, validation.Max(uint(5))),
	)
}

// Enabled reports whether a key is configured.
func (c *AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./catatan.db",
		},
		Drafts: DraftsConfig{
			Backend:           draftstore.BackendSQLite,
			SQLitePath:        "./catatan-drafts.db",
			FSDir:             "./drafts",
			Debounce:          500 * time.Millisecond,
			SessionTTL:        12 * time.Hour,
			EditorIdleTTL:     time.Hour,
			SessionQuotaBytes: 5 << 20,
			FetchAttempts:     3,
		},
		Blob: BlobConfig{
			Backend: BlobBackendFS,
			FSDir:   "./attachments",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
			User: "local",
		},
		AI: AIConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			RetryAttempts: 2,
			Timeout:       60 * time.Second,
		},
	}
}
