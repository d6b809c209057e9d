package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server         ServerSettings         `json:"server"`
	Database       DatabaseSettings       `json:"database"`
	Auth           AuthSettings           `json:"auth"`
	Metadata       MetadataSettings       `json:"metadata"`
	Jellyfin       JellyfinSettings       `json:"jellyfin"`
	Events         EventsSettings         `json:"events"`
	Audit          AuditSettings          `json:"audit"`
	Playback       PlaybackSettings       `json:"playback"`
	Status         StatusSettings         `json:"status"`
	Log            LogConfig              `json:"log"`
	ScheduledTasks ScheduledTasksSettings `json:"scheduledTasks"`
}

type ServerSettings struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"corsOrigins,omitempty"` // empty allows any origin
}

type DatabaseSettings struct {
	Path string `json:"path"`
}

type AuthSettings struct {
	JWTSecret              string `json:"jwtSecret"`
	TokenTTLHours          int    `json:"tokenTtlHours"`
	LoginAttemptsPerMinute int    `json:"loginAttemptsPerMinute"`
}

type MetadataSettings struct {
	TMDBAPIKey      string `json:"tmdbApiKey"`
	Language        string `json:"language"`
	CacheTTLMinutes int    `json:"cacheTtlMinutes"`
}

// JellyfinSettings holds file based options. The server URL and API key live in the database
// so that admins can change them at runtime.
type JellyfinSettings struct {
	CategoryRulesFile string `json:"categoryRulesFile,omitempty"`
}

// EventsSettings selects the event bus. An empty RedisAddr keeps events in process.
type EventsSettings struct {
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb"`
	RedisPrefix   string `json:"redisPrefix"`
}

// AuditSettings optionally mirrors audit entries to Kafka.
type AuditSettings struct {
	KafkaBrokers []string `json:"kafkaBrokers,omitempty"`
	KafkaTopic   string   `json:"kafkaTopic"`
}

type PlaybackSettings struct {
	ProgressFlushSeconds int `json:"progressFlushSeconds"`
}

type StatusSettings struct {
	ProbeTimeoutSeconds int `json:"probeTimeoutSeconds"`
}

type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// ScheduledTaskType defines the type of scheduled task
type ScheduledTaskType string

const (
	ScheduledTaskTypeUptimeProbe ScheduledTaskType = "uptime_probe"
	ScheduledTaskTypeCatalogSync ScheduledTaskType = "catalog_sync"
)

// ScheduledTaskFrequency defines how often a task runs
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequency1Min    ScheduledTaskFrequency = "1min"
	ScheduledTaskFrequency5Min    ScheduledTaskFrequency = "5min"
	ScheduledTaskFrequency15Min   ScheduledTaskFrequency = "15min"
	ScheduledTaskFrequency30Min   ScheduledTaskFrequency = "30min"
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "hourly"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6hours"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12hours"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "daily"
)

// Interval returns the duration of a frequency. Unknown values run daily.
func (f ScheduledTaskFrequency) Interval() time.Duration {
	switch f {
	case ScheduledTaskFrequency1Min:
		return time.Minute
	case ScheduledTaskFrequency5Min:
		return 5 * time.Minute
	case ScheduledTaskFrequency15Min:
		return 15 * time.Minute
	case ScheduledTaskFrequency30Min:
		return 30 * time.Minute
	case ScheduledTaskFrequencyHourly:
		return time.Hour
	case ScheduledTaskFrequency6Hours:
		return 6 * time.Hour
	case ScheduledTaskFrequency12Hours:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether f is one of the known frequencies.
func (f ScheduledTaskFrequency) Valid() bool {
	switch f {
	case ScheduledTaskFrequency1Min, ScheduledTaskFrequency5Min, ScheduledTaskFrequency15Min,
		ScheduledTaskFrequency30Min, ScheduledTaskFrequencyHourly, ScheduledTaskFrequency6Hours,
		ScheduledTaskFrequency12Hours, ScheduledTaskFrequencyDaily:
		return true
	}
	return false
}

// ScheduledTaskStatus represents the last run status
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusPending ScheduledTaskStatus = "pending"
	ScheduledTaskStatusRunning ScheduledTaskStatus = "running"
	ScheduledTaskStatusSuccess ScheduledTaskStatus = "success"
	ScheduledTaskStatusError   ScheduledTaskStatus = "error"
)

// ScheduledTask is a background job and the outcome of its last run.
type ScheduledTask struct {
	ID             string                 `json:"id"`
	Type           ScheduledTaskType      `json:"type"`
	Name           string                 `json:"name"`
	Enabled        bool                   `json:"enabled"`
	Frequency      ScheduledTaskFrequency `json:"frequency"`
	LastRunAt      *time.Time             `json:"lastRunAt,omitempty"`
	LastStatus     ScheduledTaskStatus    `json:"lastStatus"`
	LastError      string                 `json:"lastError,omitempty"`
	ItemsProcessed int                    `json:"itemsProcessed,omitempty"`
}

type ScheduledTasksSettings struct {
	Tasks                []ScheduledTask `json:"tasks"`
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"` // How often the scheduler looks for due tasks (default: 30)
}

func defaultTasks() []ScheduledTask {
	return []ScheduledTask{
		{ID: "uptime-probe", Type: ScheduledTaskTypeUptimeProbe, Name: "Service health checks", Enabled: true, Frequency: ScheduledTaskFrequency5Min, LastStatus: ScheduledTaskStatusPending},
		{ID: "catalog-sync", Type: ScheduledTaskTypeCatalogSync, Name: "Jellyfin library sync", Enabled: true, Frequency: ScheduledTaskFrequencyHourly, LastStatus: ScheduledTaskStatusPending},
	}
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseSettings{Path: "data/jelly.db"},
		Auth:     AuthSettings{TokenTTLHours: 24 * 7, LoginAttemptsPerMinute: 5},
		Metadata: MetadataSettings{Language: "fr-FR", CacheTTLMinutes: 60},
		Events:   EventsSettings{RedisPrefix: "jelly"},
		Audit:    AuditSettings{KafkaTopic: "jelly.audit"},
		Playback: PlaybackSettings{ProgressFlushSeconds: 5},
		Status:   StatusSettings{ProbeTimeoutSeconds: 10},
		Log: LogConfig{
			File:       "data/logs/jelly.log",
			Level:      "info",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
		ScheduledTasks: ScheduledTasksSettings{
			Tasks:                defaultTasks(),
			CheckIntervalSeconds: 30,
		},
	}
}

// Manager loads and persists settings to a JSON file. Environment variables
// prefixed with JELLY_ override the file without being written back.
type Manager struct {
	path string
	mu   sync.Mutex
	env  *viper.Viper
}

func NewManager(configPath string) *Manager {
	v := viper.New()
	v.SetEnvPrefix("JELLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Manager{path: configPath, env: v}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk, creating it with defaults when missing,
// and applies environment overrides.
func (m *Manager) Load() (Settings, error) {
	s, err := m.LoadFile()
	if err != nil {
		return s, err
	}
	m.applyEnv(&s)
	return s, nil
}

// LoadFile reads the settings file without environment overrides. Use it before Save
// so that secrets provided through the environment are not persisted.
func (m *Manager) LoadFile() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		defaults := DefaultSettings()
		if err := m.save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}
	s := DefaultSettings()
	s.ScheduledTasks.Tasks = nil
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	backfill(&s)
	return s, nil
}

func backfill(s *Settings) {
	d := DefaultSettings()
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = d.Database.Path
	}
	if s.Auth.TokenTTLHours <= 0 {
		s.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
	if s.Auth.LoginAttemptsPerMinute <= 0 {
		s.Auth.LoginAttemptsPerMinute = d.Auth.LoginAttemptsPerMinute
	}
	if s.Metadata.CacheTTLMinutes <= 0 {
		s.Metadata.CacheTTLMinutes = d.Metadata.CacheTTLMinutes
	}
	if s.Playback.ProgressFlushSeconds <= 0 {
		s.Playback.ProgressFlushSeconds = d.Playback.ProgressFlushSeconds
	}
	if s.Status.ProbeTimeoutSeconds <= 0 {
		s.Status.ProbeTimeoutSeconds = d.Status.ProbeTimeoutSeconds
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = d.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = d.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = d.Log.MaxAge
	}

	// Backfill ScheduledTasks settings
	if s.ScheduledTasks.CheckIntervalSeconds <= 0 {
		s.ScheduledTasks.CheckIntervalSeconds = d.ScheduledTasks.CheckIntervalSeconds
	}
	have := make(map[ScheduledTaskType]bool, len(s.ScheduledTasks.Tasks))
	for _, t := range s.ScheduledTasks.Tasks {
		have[t.Type] = true
	}
	for _, t := range d.ScheduledTasks.Tasks {
		if !have[t.Type] {
			s.ScheduledTasks.Tasks = append(s.ScheduledTasks.Tasks, t)
		}
	}
}

func (m *Manager) applyEnv(s *Settings) {
	v := m.env
	if v.IsSet("server.host") {
		s.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		s.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.cors_origins") {
		s.Server.CORSOrigins = splitList(v.GetString("server.cors_origins"))
	}
	if v.IsSet("database.path") {
		s.Database.Path = v.GetString("database.path")
	}
	if v.IsSet("auth.jwt_secret") {
		s.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	}
	if v.IsSet("auth.token_ttl_hours") {
		s.Auth.TokenTTLHours = v.GetInt("auth.token_ttl_hours")
	}
	if v.IsSet("tmdb.api_key") {
		s.Metadata.TMDBAPIKey = v.GetString("tmdb.api_key")
	}
	if v.IsSet("tmdb.language") {
		s.Metadata.Language = v.GetString("tmdb.language")
	}
	if v.IsSet("jellyfin.category_rules_file") {
		s.Jellyfin.CategoryRulesFile = v.GetString("jellyfin.category_rules_file")
	}
	if v.IsSet("redis.addr") {
		s.Events.RedisAddr = v.GetString("redis.addr")
	}
	if v.IsSet("redis.password") {
		s.Events.RedisPassword = v.GetString("redis.password")
	}
	if v.IsSet("redis.db") {
		s.Events.RedisDB = v.GetInt("redis.db")
	}
	if v.IsSet("kafka.brokers") {
		s.Audit.KafkaBrokers = splitList(v.GetString("kafka.brokers"))
	}
	if v.IsSet("kafka.topic") {
		s.Audit.KafkaTopic = v.GetString("kafka.topic")
	}
	if v.IsSet("log.file") {
		s.Log.File = v.GetString("log.file")
	}
	if v.IsSet("log.level") {
		s.Log.Level = v.GetString("log.level")
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(s)
}

// Update applies fn to the file settings and saves the result.
func (m *Manager) Update(fn func(*Settings)) error {
	s, err := m.LoadFile()
	if err != nil {
		return err
	}
	fn(&s)
	return m.Save(s)
}

func (m *Manager) save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// TokenTTL returns the session token lifetime.
func (s Settings) TokenTTL() time.Duration {
	return time.Duration(s.Auth.TokenTTLHours) * time.Hour
}

// MetadataCacheTTL returns how long TMDB responses are cached.
func (s Settings) MetadataCacheTTL() time.Duration {
	return time.Duration(s.Metadata.CacheTTLMinutes) * time.Minute
}

// ProgressFlushInterval returns how long playback updates are coalesced.
func (s Settings) ProgressFlushInterval() time.Duration {
	return time.Duration(s.Playback.ProgressFlushSeconds) * time.Second
}
