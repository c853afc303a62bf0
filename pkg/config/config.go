package config

import (
	fs2 "io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath          = "toques.yml"
	DefaultBaseURL       = "https://api.indigitall.com"
	DefaultDatabaseURL   = "postgresql://postgres:postgres@db:5432/postgres"
	DefaultTenant        = "visionamos"
	DefaultServerAddress = ":8000"
)

var DefaultApplicationKeywords = []string{
	"cooprofesionales",
	"coovimag",
	"utrahuilca",
	"cooprudea",
	"vidasol",
	"visionamos",
}

type API struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	ServerKey    string        `yaml:"server_key"`
	Email        string        `yaml:"email" validate:"omitempty,email"`
	Password     string        `yaml:"password"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestDelay time.Duration `yaml:"request_delay" validate:"gte=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=1,lte=10"`
	BackoffBase  time.Duration `yaml:"backoff_base" validate:"gte=0"`
}

// HasCredentials reports whether at least one authentication mode is configured.
func (a API) HasCredentials() bool {
	return a.ServerKey != "" || (a.Email != "" && a.Password != "")
}

type Database struct {
	URL          string `yaml:"url" validate:"required"`
	PoolMaxConns int    `yaml:"pool_max_conns" validate:"gte=0"`
}

type Extraction struct {
	DaysBack            int      `yaml:"days_back" validate:"gte=1"`
	PageSize            int      `yaml:"page_size" validate:"gte=1"`
	MaxPages            int      `yaml:"max_pages" validate:"gte=1"`
	MaxWindowDays       int      `yaml:"max_window_days" validate:"gte=1"`
	ApplicationFilter   string   `yaml:"application_filter"`
	ApplicationKeywords []string `yaml:"application_keywords"`
	MaxFallbackApps     int      `yaml:"max_fallback_apps" validate:"gte=1"`
	Channels            []string `yaml:"channels" validate:"dive,oneof=push chat sms email inapp campaigns contacts"`
}

type Tenant struct {
	Default      string            `yaml:"default" validate:"required"`
	Applications map[string]string `yaml:"applications"`
}

// For returns the tenant owning the given application.
func (t Tenant) For(applicationID string) string {
	if tenant, ok := t.Applications[applicationID]; ok && tenant != "" {
		return tenant
	}
	return t.Default
}

type Command struct {
	Name string   `yaml:"name" validate:"required"`
	Args []string `yaml:"args"`
}

type Downstream struct {
	Dir      string        `yaml:"dir"`
	Run      Command       `yaml:"run"`
	Test     Command       `yaml:"test"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Disabled bool          `yaml:"disabled"`
}

type Server struct {
	Address  string `yaml:"address" validate:"required"`
	Schedule string `yaml:"schedule" validate:"omitempty,cron"`
}

type Config struct {
	API        API        `yaml:"api"`
	Database   Database   `yaml:"database"`
	Extraction Extraction `yaml:"extraction"`
	Tenant     Tenant     `yaml:"tenant"`
	Downstream Downstream `yaml:"downstream"`
	Server     Server     `yaml:"server"`
}

func Default() *Config {
	return &Config{
		API: API{
			BaseURL:      DefaultBaseURL,
			Timeout:      30 * time.Second,
			RequestDelay: 500 * time.Millisecond,
			MaxRetries:   3,
			BackoffBase:  time.Second,
		},
		Database: Database{
			URL: DefaultDatabaseURL,
		},
		Extraction: Extraction{
			DaysBack:            7,
			PageSize:            100,
			MaxPages:            50,
			MaxWindowDays:       7,
			ApplicationKeywords: DefaultApplicationKeywords,
			MaxFallbackApps:     3,
		},
		Tenant: Tenant{
			Default: DefaultTenant,
		},
		Downstream: Downstream{
			Dir:     "dbt",
			Run:     Command{Name: "dbt", Args: []string{"run"}},
			Test:    Command{Name: "dbt", Args: []string{"test"}},
			Timeout: 30 * time.Minute,
		},
		Server: Server{
			Address: DefaultServerAddress,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies the environment overrides
// and validates the result. A missing file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	return LoadWithEnv(fs, path, os.LookupEnv)
}

func LoadWithEnv(fs afero.Fs, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	buf, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	case errors.Is(err, fs2.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "failed to read file %s", path)
	}

	applyEnv(cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("INDIGITALL_API_BASE_URL", &cfg.API.BaseURL)
	str("INDIGITALL_SERVER_KEY", &cfg.API.ServerKey)
	str("INDIGITALL_EMAIL", &cfg.API.Email)
	str("INDIGITALL_PASSWORD", &cfg.API.Password)
	str("DATABASE_URL", &cfg.Database.URL)
	str("TOQUES_DEFAULT_TENANT", &cfg.Tenant.Default)
	num("DAYS_BACK", &cfg.Extraction.DaysBack)
	num("MAX_RECORDS", &cfg.Extraction.PageSize)

	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("cron", validateCron); err != nil {
		return errors.Wrap(err, "failed to register cron validation")
	}

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	return nil
}

func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}
