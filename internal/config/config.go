package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/beekhof/busysync/internal/reconcile"
)

// Supported calendar providers.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
)

// Defaults applied when neither a flag, the environment nor the config file
// sets a value.
const (
	DefaultLookAheadDays = 14
	DefaultBlockTitle    = "Busy"
	DefaultSyncTag       = "#busysync"
	DefaultSchedule      = "*/30 * * * *"
	DefaultRunTimeout    = 5 * time.Minute
)

// Duration is a time.Duration written as "90s" or "5m" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Calendar describes one side of the sync: which provider hosts it and how to
// reach it.
type Calendar struct {
	CalendarID string `json:"calendar_id,omitempty" yaml:"calendar_id,omitempty"`
	Provider   string `json:"provider,omitempty" yaml:"provider,omitempty"` // "google" or "caldav"

	// Google Calendar specific fields
	TokenPath string `json:"token_path,omitempty" yaml:"token_path,omitempty"` // Path to the OAuth token file

	// CalDAV specific fields
	ServerURL string `json:"server_url,omitempty" yaml:"server_url,omitempty"` // e.g. "https://caldav.icloud.com"
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"` // App-specific password
}

// Config holds the configuration for busysync.
type Config struct {
	Source                Calendar `json:"source" yaml:"source"`
	Target                Calendar `json:"target" yaml:"target"`
	GoogleCredentialsPath string   `json:"google_credentials_path,omitempty" yaml:"google_credentials_path,omitempty"`

	LookAheadDays  int      `json:"look_ahead_days,omitempty" yaml:"look_ahead_days,omitempty"`
	BlockTitle     string   `json:"block_title,omitempty" yaml:"block_title,omitempty"`
	SyncTag        string   `json:"sync_tag,omitempty" yaml:"sync_tag,omitempty"`
	Strategy       string   `json:"strategy,omitempty" yaml:"strategy,omitempty"` // "time" or "identity"
	Schedule       string   `json:"schedule,omitempty" yaml:"schedule,omitempty"` // Standard 5-field cron spec
	RunTimeout     Duration `json:"run_timeout,omitempty" yaml:"run_timeout,omitempty"`
	FailFast       bool     `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	SkipFreeEvents bool     `json:"skip_free_events,omitempty" yaml:"skip_free_events,omitempty"`
}

// Overrides carries command-line flag values. Zero values mean the flag was
// not given; booleans can only switch a setting on.
type Overrides struct {
	SourceCalendarID      string
	TargetCalendarID      string
	GoogleCredentialsPath string
	LookAheadDays         int
	BlockTitle            string
	SyncTag               string
	Strategy              string
	Schedule              string
	RunTimeout            time.Duration
	FailFast              bool
	SkipFreeEvents        bool
}

// LoadDotEnv seeds the process environment from .env style files. Variables
// already set are left alone and missing files are skipped, so real
// environment variables keep their precedence.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadConfigFromFile loads configuration from a YAML (.yaml, .yml) or JSON
// file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing or invalid.
func LoadConfig(configFile string, flags Overrides) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	// Step 3: Override with command-line flags (highest priority)
	config.applyOverrides(flags)

	// Step 4: Apply defaults and validate
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	for _, side := range []struct {
		prefix string
		cal    *Calendar
	}{
		{"SOURCE", &c.Source},
		{"TARGET", &c.Target},
	} {
		setString(&side.cal.CalendarID, side.prefix+"_CALENDAR_ID")
		setString(&side.cal.Provider, side.prefix+"_PROVIDER")
		setString(&side.cal.TokenPath, side.prefix+"_TOKEN_PATH")
		setString(&side.cal.ServerURL, side.prefix+"_CALDAV_SERVER_URL")
		setString(&side.cal.Username, side.prefix+"_CALDAV_USERNAME")
		setString(&side.cal.Password, side.prefix+"_CALDAV_PASSWORD")
	}
	setString(&c.GoogleCredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	setString(&c.BlockTitle, "BLOCK_TITLE")
	setString(&c.SyncTag, "SYNC_TAG")
	setString(&c.Strategy, "SYNC_STRATEGY")
	setString(&c.Schedule, "SYNC_SCHEDULE")

	if v := os.Getenv("LOOK_AHEAD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LOOK_AHEAD_DAYS value: %w", err)
		}
		c.LookAheadDays = days
	}
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		if err := c.RunTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid RUN_TIMEOUT value: %w", err)
		}
	}
	if v := os.Getenv("FAIL_FAST"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FAIL_FAST value: %w", err)
		}
		c.FailFast = b
	}
	if v := os.Getenv("SKIP_FREE_EVENTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SKIP_FREE_EVENTS value: %w", err)
		}
		c.SkipFreeEvents = b
	}
	return nil
}

func (c *Config) applyOverrides(flags Overrides) {
	if flags.SourceCalendarID != "" {
		c.Source.CalendarID = flags.SourceCalendarID
	}
	if flags.TargetCalendarID != "" {
		c.Target.CalendarID = flags.TargetCalendarID
	}
	if flags.GoogleCredentialsPath != "" {
		c.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.LookAheadDays != 0 {
		c.LookAheadDays = flags.LookAheadDays
	}
	if flags.BlockTitle != "" {
		c.BlockTitle = flags.BlockTitle
	}
	if flags.SyncTag != "" {
		c.SyncTag = flags.SyncTag
	}
	if flags.Strategy != "" {
		c.Strategy = flags.Strategy
	}
	if flags.Schedule != "" {
		c.Schedule = flags.Schedule
	}
	if flags.RunTimeout != 0 {
		c.RunTimeout = Duration(flags.RunTimeout)
	}
	if flags.FailFast {
		c.FailFast = true
	}
	if flags.SkipFreeEvents {
		c.SkipFreeEvents = true
	}
}

func (c *Config) applyDefaults() {
	for _, cal := range []*Calendar{&c.Source, &c.Target} {
		if cal.Provider == "" {
			cal.Provider = ProviderGoogle
		}
	}
	if c.LookAheadDays == 0 {
		c.LookAheadDays = DefaultLookAheadDays
	}
	if c.BlockTitle == "" {
		c.BlockTitle = DefaultBlockTitle
	}
	if c.SyncTag == "" {
		c.SyncTag = DefaultSyncTag
	}
	if c.Strategy == "" {
		c.Strategy = string(reconcile.StrategyTime)
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = Duration(DefaultRunTimeout)
	}
}

// Validate reports the first missing or invalid setting.
func (c *Config) Validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}
	if c.Source.Provider == c.Target.Provider && c.Source.ServerURL == c.Target.ServerURL &&
		c.Source.CalendarID == c.Target.CalendarID {
		return fmt.Errorf("source and target must be different calendars, both are %q", c.Source.CalendarID)
	}
	if c.UsesGoogle() && c.GoogleCredentialsPath == "" {
		return fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}
	if c.LookAheadDays < 1 {
		return fmt.Errorf("look_ahead_days must be at least 1, got %d", c.LookAheadDays)
	}
	if _, err := reconcile.NewStrategy(reconcile.StrategyKind(c.Strategy), c.BlockTitle, c.SyncTag); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("run_timeout must be positive, got %s", time.Duration(c.RunTimeout))
	}
	return nil
}

func (cal *Calendar) validate(side string) error {
	if cal.CalendarID == "" {
		return fmt.Errorf("%s.calendar_id must be provided via --%s-calendar flag, %s_CALENDAR_ID environment variable, or config file",
			side, side, strings.ToUpper(side))
	}
	switch cal.Provider {
	case ProviderGoogle:
		if cal.TokenPath == "" {
			return fmt.Errorf("%s.token_path must be provided for a Google Calendar", side)
		}
	case ProviderCalDAV:
		if cal.ServerURL == "" {
			return fmt.Errorf("%s.server_url must be provided for a CalDAV calendar", side)
		}
		if cal.Username == "" {
			return fmt.Errorf("%s.username must be provided for a CalDAV calendar", side)
		}
		if cal.Password == "" {
			return fmt.Errorf("%s.password must be provided for a CalDAV calendar", side)
		}
	default:
		return fmt.Errorf("%s.provider must be '%s' or '%s', got '%s'", side, ProviderGoogle, ProviderCalDAV, cal.Provider)
	}
	return nil
}

// UsesGoogle reports whether either calendar is hosted on Google Calendar.
func (c *Config) UsesGoogle() bool {
	return c.Source.Provider == ProviderGoogle || c.Target.Provider == ProviderGoogle
}

// Options returns the reconciler options described by the configuration.
func (c *Config) Options() reconcile.Options {
	return reconcile.Options{
		SourceCalendarID: c.Source.CalendarID,
		TargetCalendarID: c.Target.CalendarID,
		LookAhead:        time.Duration(c.LookAheadDays) * 24 * time.Hour,
		BlockTitle:       c.BlockTitle,
		SyncTag:          c.SyncTag,
		Strategy:         reconcile.StrategyKind(c.Strategy),
		FailFast:         c.FailFast,
		SkipFreeEvents:   c.SkipFreeEvents,
	}
}

// Timeout returns the per-pass deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RunTimeout)
}
