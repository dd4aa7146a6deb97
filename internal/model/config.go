package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	_ "embed"
)

// Enum helpers.
const (
	EnvironmentProd1 = "prod1"
	EnvironmentProd2 = "prod2"

	DefaultClientID = "resource_server"

	// in-memory database, run history does not survive a restart
	HistoryInMemory = ":memory:"
)

//go:embed techops.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("techops.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int       `yaml:"version" mapstructure:"version"` // fixed 0 for now
	Verbose   bool      `yaml:"verbose" mapstructure:"verbose"`
	Server    Server    `yaml:"server" mapstructure:"server"`
	Workspace Workspace `yaml:"workspace" mapstructure:"workspace"`
	Auth      Auth      `yaml:"auth" mapstructure:"auth"`
	API       API       `yaml:"api" mapstructure:"api"`
	History   History   `yaml:"history" mapstructure:"history"`
}

// Server is the HTTP surface of the tool.
type Server struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	StaticDir   string `yaml:"static_dir" mapstructure:"static_dir"`
	TemplateDir string `yaml:"template_dir" mapstructure:"template_dir"`
}

// Workspace holds uploaded inputs and generated outputs.
type Workspace struct {
	UploadDir    string `yaml:"upload_dir" mapstructure:"upload_dir"`
	OutputDir    string `yaml:"output_dir" mapstructure:"output_dir"`
	CleanOnStart bool   `yaml:"clean_on_start" mapstructure:"clean_on_start"`
	Sweep        Sweep  `yaml:"sweep" mapstructure:"sweep"`
}

// Sweep removes stale workspace files; an empty Cron disables it.
type Sweep struct {
	Cron   string        `yaml:"cron" mapstructure:"cron"`
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

// Auth configures the token endpoint. Realms maps an environment name to
// a token URL containing a single %s placeholder for the tenant code.
type Auth struct {
	ClientID     string            `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string            `yaml:"client_secret" mapstructure:"client_secret"`
	Timeout      time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	Realms       map[string]string `yaml:"realms" mapstructure:"realms"`
}

// API tunes the calls routines make to the remote REST API.
type API struct {
	RequestInterval time.Duration `yaml:"request_interval" mapstructure:"request_interval"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type History struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Server: Server{
			Addr:        "127.0.0.1:8000",
			StaticDir:   "static",
			TemplateDir: "sample_templates",
		},
		Workspace: Workspace{
			UploadDir:    "uploads",
			OutputDir:    "outputs",
			CleanOnStart: true,
			Sweep: Sweep{
				Cron:   "0 * * * *",
				MaxAge: 24 * time.Hour,
			},
		},
		Auth: Auth{
			ClientID:     DefaultClientID,
			ClientSecret: DefaultClientID,
			Timeout:      30 * time.Second,
			Realms: map[string]string{
				EnvironmentProd1: "https://sso.sg.cropin.in/auth/realms/%s/protocol/openid-connect/token",
				EnvironmentProd2: "https://sso.africa.cropin.com/auth/realms/%s/protocol/openid-connect/token",
			},
		},
		API: API{
			RequestInterval: 500 * time.Millisecond,
			Timeout:         60 * time.Second,
		},
		History: History{
			DSN: HistoryInMemory,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig. Values
// can be overridden by TECHOPS_* environment variables, e.g.
// TECHOPS_SERVER_ADDR.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("techops")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig(ctx))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key, so AutomaticEnv can see them.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("version", cfg.Version)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.static_dir", cfg.Server.StaticDir)
	v.SetDefault("server.template_dir", cfg.Server.TemplateDir)
	v.SetDefault("workspace.upload_dir", cfg.Workspace.UploadDir)
	v.SetDefault("workspace.output_dir", cfg.Workspace.OutputDir)
	v.SetDefault("workspace.clean_on_start", cfg.Workspace.CleanOnStart)
	v.SetDefault("workspace.sweep.cron", cfg.Workspace.Sweep.Cron)
	v.SetDefault("workspace.sweep.max_age", cfg.Workspace.Sweep.MaxAge)
	v.SetDefault("auth.client_id", cfg.Auth.ClientID)
	v.SetDefault("auth.client_secret", cfg.Auth.ClientSecret)
	v.SetDefault("auth.timeout", cfg.Auth.Timeout)
	v.SetDefault("auth.realms", cfg.Auth.Realms)
	v.SetDefault("api.request_interval", cfg.API.RequestInterval)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("history.dsn", cfg.History.DSN)
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.Auth.ClientSecret != "" {
		c.Auth.ClientSecret = "***"
	}
	return c
}

// Validate checks c against the #Config schema in techops.cue and the cron
// expression against the cron parser. The schema error is a CUE error list,
// the cron one a *FieldError; see ConfigErrDetails.
func (c Config) Validate() error {
	value := schema.Unify(cueCtx.Encode(c.cueFields()))
	if err := value.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return err
	}
	if c.Workspace.Sweep.Cron != "" {
		if _, err := ParseCron(c.Workspace.Sweep.Cron); err != nil {
			return &FieldError{Path: "workspace.sweep.cron", Err: err}
		}
	}
	return nil
}

// cueFields mirrors techops.yaml keys, durations are nanoseconds.
func (c Config) cueFields() map[string]any {
	realms := c.Auth.Realms
	if realms == nil {
		realms = map[string]string{}
	}
	return map[string]any{
		"version": c.Version,
		"verbose": c.Verbose,
		"server": map[string]any{
			"addr":         c.Server.Addr,
			"static_dir":   c.Server.StaticDir,
			"template_dir": c.Server.TemplateDir,
		},
		"workspace": map[string]any{
			"upload_dir":     c.Workspace.UploadDir,
			"output_dir":     c.Workspace.OutputDir,
			"clean_on_start": c.Workspace.CleanOnStart,
			"sweep": map[string]any{
				"cron":    c.Workspace.Sweep.Cron,
				"max_age": int64(c.Workspace.Sweep.MaxAge),
			},
		},
		"auth": map[string]any{
			"client_id":     c.Auth.ClientID,
			"client_secret": c.Auth.ClientSecret,
			"timeout":       int64(c.Auth.Timeout),
			"realms":        realms,
		},
		"api": map[string]any{
			"request_interval": int64(c.API.RequestInterval),
			"timeout":          int64(c.API.Timeout),
		},
		"history": map[string]any{
			"dsn": c.History.DSN,
		},
	}
}
