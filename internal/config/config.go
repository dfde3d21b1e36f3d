package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, falling back to system environment variables")
	}
}

// Get reads a raw environment variable.
func Get(key string) string {
	return os.Getenv(key)
}

type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Discord    DiscordConfig    `envPrefix:"DISCORD_"`
	LLM        LLMConfig        `envPrefix:"LLM_"`
	Storage    StorageConfig    `envPrefix:"STORAGE_"`
	Cache      CacheConfig      `envPrefix:"CACHE_"`
	Persona    PersonaConfig    `envPrefix:"PERSONA_"`
	Growth     GrowthConfig     `envPrefix:"GROWTH_"`
	Scene      SceneConfig      `envPrefix:"SCENE_"`
	Random     RandomConfig     `envPrefix:"RANDOM_"`
	Backup     BackupConfig     `envPrefix:"BACKUP_"`
	Reminder   ReminderConfig   `envPrefix:"REMINDER_"`
	Offline    OfflineConfig    `envPrefix:"OFFLINE_"`
	Permission PermissionConfig `envPrefix:"PERMISSION_"`
	Tools      ToolsConfig      `envPrefix:"TOOLS_"`
	Media      MediaConfig      `envPrefix:"MEDIA_"`
	Metrics    MetricsConfig    `envPrefix:"METRICS_"`
}

type AppConfig struct {
	Name     string `env:"NAME" envDefault:"persona-bot"`
	DataDir  string `env:"DATA_DIR" envDefault:"data"`
	Timezone string `env:"TIMEZONE" envDefault:"Local"`
}

type LogConfig struct {
	Level   string `env:"LEVEL" envDefault:"info"`
	File    string `env:"FILE"`
	Console bool   `env:"CONSOLE" envDefault:"true"`
}

type DiscordConfig struct {
	Token string `env:"TOKEN"`
}

type LLMConfig struct {
	Provider    string        `env:"PROVIDER" envDefault:"openai"`
	BaseURL     string        `env:"BASE_URL"`
	APIKey      string        `env:"API_KEY"`
	Model       string        `env:"MODEL" envDefault:"gpt-3.5-turbo"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"300"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	// persona command -> "provider/model" or "model"
	PersonaModels map[string]string `env:"PERSONA_MODELS" envSeparator:"," envKeyValSeparator:":"`
	HistoryTurns  int               `env:"HISTORY_TURNS" envDefault:"5"`
}

type StorageConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"data/persona.db"`
	DatastorePath   string        `env:"DATASTORE_PATH" envDefault:"data/datastore.json"`
	AutoSave        time.Duration `env:"AUTOSAVE" envDefault:"10s"`
	DatastoreCopies int           `env:"DATASTORE_COPIES" envDefault:"3"`
	// conversation and finished reminder retention, 0 keeps everything
	Retention time.Duration `env:"RETENTION" envDefault:"720h"`
}

type CacheConfig struct {
	Enable         bool          `env:"ENABLE" envDefault:"true"`
	RedisURL       string        `env:"REDIS_URL"`
	TTL            time.Duration `env:"TTL" envDefault:"1h"`
	Throttle       bool          `env:"THROTTLE" envDefault:"true"`
	ThrottleWindow time.Duration `env:"THROTTLE_WINDOW" envDefault:"180s"`
}

type PersonaConfig struct {
	Default        string        `env:"DEFAULT" envDefault:"名字"`
	ImportDir      string        `env:"IMPORT_DIR" envDefault:"data/personas"`
	Formats        []string      `env:"FORMATS" envSeparator:"," envDefault:"toml,json"`
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"30s"`
	Admins         []string      `env:"ADMINS" envSeparator:"," envDefault:"admin"`
}

type GrowthConfig struct {
	Enable     bool `env:"ENABLE" envDefault:"true"`
	BaseCount  int  `env:"BASE_COUNT" envDefault:"5"`
	LevelCount int  `env:"LEVEL_COUNT" envDefault:"5"`
	MaxLevel   int  `env:"MAX_LEVEL" envDefault:"5"`
	// count:type:value, e.g. 10:emotion:兴奋
	Unlocks []string `env:"UNLOCKS" envSeparator:"," envDefault:"10:emotion:兴奋,30:skill:讲故事,60:reply_style:诗意"`
}

type SceneConfig struct {
	Names           []string          `env:"NAMES" envSeparator:"," envDefault:"general,private,group"`
	Default         string            `env:"DEFAULT" envDefault:"general"`
	DefaultPersonas map[string]string `env:"DEFAULT_PERSONAS" envSeparator:"," envKeyValSeparator:":"`
	Isolation       bool              `env:"ISOLATION" envDefault:"true"`
	SpecificConfig  bool              `env:"SPECIFIC_CONFIG" envDefault:"true"`
}

type RandomConfig struct {
	Enable      bool          `env:"ENABLE" envDefault:"false"`
	MinInterval time.Duration `env:"MIN_INTERVAL" envDefault:"30m"`
	MaxInterval time.Duration `env:"MAX_INTERVAL" envDefault:"120m"`
}

type BackupConfig struct {
	Enable        bool          `env:"ENABLE" envDefault:"true"`
	Dir           string        `env:"DIR" envDefault:"data/backup"`
	Interval      time.Duration `env:"INTERVAL" envDefault:"24h"`
	RetentionDays int           `env:"RETENTION_DAYS" envDefault:"7"`
	AutoRestore   bool          `env:"AUTO_RESTORE" envDefault:"false"`
}

type ReminderConfig struct {
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"600s"`
	LookAhead     time.Duration `env:"LOOK_AHEAD" envDefault:"168h"`
}

type OfflineConfig struct {
	Enable        bool          `env:"ENABLE" envDefault:"false"`
	CheckURL      string        `env:"CHECK_URL" envDefault:"https://www.baidu.com"`
	CheckTimeout  time.Duration `env:"CHECK_TIMEOUT" envDefault:"3s"`
	TemplatesPath string        `env:"TEMPLATES_PATH" envDefault:"data/offline_templates.json"`
}

type PermissionConfig struct {
	Enable      bool              `env:"ENABLE" envDefault:"false"`
	DefaultRole string            `env:"DEFAULT_ROLE" envDefault:"user"`
	UserRoles   map[string]string `env:"USER_ROLES" envSeparator:"," envKeyValSeparator:":"`
	// role:op1|op2, e.g. guest:message.handle|switch_persona
	Roles []string `env:"ROLES" envSeparator:","`
}

type ToolsConfig struct {
	Enable      bool   `env:"ENABLE" envDefault:"true"`
	WeatherKey  string `env:"WEATHER_KEY"`
	WeatherCity string `env:"WEATHER_CITY" envDefault:"110000"`
	CalendarURL string `env:"CALENDAR_URL"`
	Todo        bool   `env:"TODO" envDefault:"true"`
}

type MediaConfig struct {
	ImageURL   string `env:"IMAGE_URL"`
	ImageModel string `env:"IMAGE_MODEL" envDefault:"sd-v1-5"`
	TTSURL     string `env:"TTS_URL"`
	// persona command -> voice name
	Voices map[string]string `env:"VOICES" envSeparator:"," envKeyValSeparator:":"`
}

type MetricsConfig struct {
	Addr string `env:"ADDR"`
}

// New parses the environment into a Config.
func New() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Random.Enable && c.Random.MinInterval > c.Random.MaxInterval {
		return fmt.Errorf("RANDOM_MIN_INTERVAL %s exceeds RANDOM_MAX_INTERVAL %s", c.Random.MinInterval, c.Random.MaxInterval)
	}
	if c.Growth.Enable && (c.Growth.BaseCount <= 0 || c.Growth.MaxLevel < 1) {
		return fmt.Errorf("GROWTH_BASE_COUNT and GROWTH_MAX_LEVEL must be positive")
	}
	if len(c.Scene.Names) == 0 {
		return fmt.Errorf("SCENE_NAMES must list at least one scene")
	}
	found := false
	for _, s := range c.Scene.Names {
		if s == c.Scene.Default {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("SCENE_DEFAULT %q is not in SCENE_NAMES", c.Scene.Default)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Growth.ParseUnlocks(); err != nil {
		return err
	}
	if _, err := c.Permission.ParseRoles(); err != nil {
		return err
	}
	return nil
}

// Location resolves APP_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	return loc, nil
}

// UnlockRule is one growth threshold.
type UnlockRule struct {
	Count int
	Type  string
	Value string
}

func (g GrowthConfig) ParseUnlocks() ([]UnlockRule, error) {
	rules := make([]UnlockRule, 0, len(g.Unlocks))
	for _, raw := range g.Unlocks {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("GROWTH_UNLOCKS entry %q: want count:type:value", raw)
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("GROWTH_UNLOCKS entry %q: bad count", raw)
		}
		switch parts[1] {
		case "emotion", "skill", "reply_style":
		default:
			return nil, fmt.Errorf("GROWTH_UNLOCKS entry %q: unknown type %q", raw, parts[1])
		}
		rules = append(rules, UnlockRule{Count: n, Type: parts[1], Value: parts[2]})
	}
	return rules, nil
}

// ParseRoles returns role -> allowed operations. Built-in roles are used when
// PERMISSION_ROLES is empty.
func (p PermissionConfig) ParseRoles() (map[string][]string, error) {
	if len(p.Roles) == 0 {
		return map[string][]string{
			"admin": {"all"},
			"user": {
				"message.handle", "switch_persona", "switch_scene", "add_reminder",
				"import_persona", "export_persona", "delete_persona",
			},
			"guest": {"message.handle"},
		}, nil
	}
	roles := make(map[string][]string, len(p.Roles))
	for _, raw := range p.Roles {
		name, ops, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("PERMISSION_ROLES entry %q: want role:op1|op2", raw)
		}
		roles[name] = strings.Split(ops, "|")
	}
	if _, ok := roles[p.DefaultRole]; !ok {
		return nil, fmt.Errorf("PERMISSION_DEFAULT_ROLE %q is not defined in PERMISSION_ROLES", p.DefaultRole)
	}
	return roles, nil
}
