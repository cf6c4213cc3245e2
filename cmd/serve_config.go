package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/logging"
	"github.com/giantswarm/discord-gate/internal/server"
)

// minSecretBytes is the shortest JWT_SECRET accepted without a warning.
const minSecretBytes = 32

// ServeConfig holds all configuration for the serve command.
// It is read once at startup and never changed afterwards.
type ServeConfig struct {
	// Discord application credentials.
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
	RedirectURI  string `env:"CLIENT_REDIRECT_URI,required,notEmpty"`

	// JWTSecret signs session tokens.
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// Access policy.
	GuildID string `env:"GUILD_ID,required,notEmpty"`
	RoleID  string `env:"ROLE_ID,required,notEmpty"`

	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port int    `env:"PORT" envDefault:"8080"`

	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	DiscordAPIBaseURL string        `env:"DISCORD_API_BASE_URL"`

	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"false"`
	EnableHSTS   bool `env:"ENABLE_HSTS" envDefault:"false"`

	// MetricsAddr is the dedicated metrics listener. An empty value falls
	// back to the default; pass --metrics-addr= to disable it.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	Debug     bool   `env:"DEBUG" envDefault:"false"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadServeConfigFrom reads a ServeConfig from the given variables.
func LoadServeConfigFrom(environ map[string]string) (ServeConfig, error) {
	var cfg ServeConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return ServeConfig{}, fmt.Errorf("failed to parse serve config: %w", withEnvKeys(err))
	}
	return cfg, nil
}

// withEnvKeys prefixes field parse errors with the variable they came from,
// so PORT=http reports PORT rather than the Go field name.
func withEnvKeys(err error) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return err
	}

	cfgType := reflect.TypeOf(ServeConfig{})
	errs := make([]error, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) {
			if field, ok := cfgType.FieldByName(pe.Name); ok {
				key, _, _ := strings.Cut(field.Tag.Get("env"), ",")
				e = fmt.Errorf("%s: %w", key, e)
			}
		}
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// loadEnvironment merges the dotenv file at path with the process
// environment. Process variables win. A missing file is not an error.
func loadEnvironment(path string) (map[string]string, error) {
	environ := make(map[string]string)

	if path != "" {
		fileEnv, err := godotenv.Read(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		default:
			maps.Copy(environ, fileEnv)
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	return environ, nil
}

// Validate checks values that parse but cannot work.
func (c *ServeConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if err := validateAbsoluteURL(c.RedirectURI, "CLIENT_REDIRECT_URI"); err != nil {
		return err
	}
	if c.DiscordAPIBaseURL != "" {
		if err := validateAbsoluteURL(c.DiscordAPIBaseURL, "DISCORD_API_BASE_URL"); err != nil {
			return err
		}
	}
	if err := validateSnowflake(c.GuildID, "GUILD_ID"); err != nil {
		return err
	}
	if err := validateSnowflake(c.RoleID, "ROLE_ID"); err != nil {
		return err
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.LogFormat)
	}
	return nil
}

// Warnings lists settings that work but are unsafe.
func (c *ServeConfig) Warnings() []string {
	var warnings []string
	if len(c.JWTSecret) < minSecretBytes {
		warnings = append(warnings, fmt.Sprintf("JWT_SECRET is shorter than %d bytes", minSecretBytes))
	}
	if !c.CookieSecure && strings.HasPrefix(c.RedirectURI, "https://") {
		warnings = append(warnings, "COOKIE_SECURE is off while CLIENT_REDIRECT_URI uses https")
	}
	return warnings
}

// Addr returns the gate listen address.
func (c *ServeConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LogLevel returns the level name for the configured verbosity.
func (c *ServeConfig) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return "info"
}

// DiscordConfig maps the configuration onto the Discord client's.
// A custom API base also moves the token endpoint, which lives under it.
func (c *ServeConfig) DiscordConfig() discord.Config {
	cfg := discord.Config{
		ClientID:       c.ClientID,
		ClientSecret:   c.ClientSecret,
		RedirectURI:    c.RedirectURI,
		RequestTimeout: c.UpstreamTimeout,
	}
	if c.DiscordAPIBaseURL != "" {
		base := strings.TrimRight(c.DiscordAPIBaseURL, "/")
		cfg.APIBaseURL = base
		cfg.TokenURL = base + "/oauth2/token"
	}
	return cfg
}

// ServerConfig maps the configuration onto the HTTP layer's.
func (c *ServeConfig) ServerConfig(version string) *server.Config {
	cfg := server.NewDefaultConfig()
	cfg.ServerName = appName
	cfg.Version = version
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.CookieSecure = c.CookieSecure
	cfg.EnableHSTS = c.EnableHSTS
	cfg.LogLevel = c.LogLevel()
	cfg.LogFormat = strings.ToLower(c.LogFormat)
	return cfg
}

// LogValue implements slog.LogValuer. Secrets are reduced to their length.
func (c ServeConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", c.ClientID),
		slog.String("client_secret", logging.SanitizeToken(c.ClientSecret)),
		slog.String("redirect_uri", c.RedirectURI),
		slog.String("jwt_secret", logging.SanitizeToken(c.JWTSecret)),
		slog.String("guild_id", c.GuildID),
		slog.String("role_id", c.RoleID),
		slog.String("addr", c.Addr()),
		slog.Duration("upstream_timeout", c.UpstreamTimeout),
		slog.Bool("cookie_secure", c.CookieSecure),
		slog.Bool("hsts", c.EnableHSTS),
		slog.String("metrics_addr", c.MetricsAddr),
	)
}

func validateAbsoluteURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must have a host, got %q", name, raw)
	}
	return nil
}

// validateSnowflake checks that id is a Discord snowflake: a positive
// decimal integer.
func validateSnowflake(id, name string) error {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return fmt.Errorf("%s must be a numeric Discord id, got %q", name, id)
	}
	return nil
}
