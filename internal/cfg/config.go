package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

const (
	DefGithubWebhookEndpoint     = "/webhook"
	DefPrometheusMetricsEndpoint = "/metrics"
	DefBotName                   = "always-on-duty"
	DefLogFormat                 = "logfmt"
	DefLogTimeKey                = "time_iso8601"
	DefLogLevel                  = "info"
	DefWorkflowDiscoveryTimeout  = 5 * time.Second
	DefGitExecutable             = "git"
)

// Environment variables that override values from the configuration file.
const (
	EnvAppID         = "app_id"
	EnvPrivateKey    = "private_key"
	EnvWebhookSecret = "webhook_secret"
	EnvBotName       = "client_name"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	GithubAppID               int64  `toml:"github_app_id"`
	GithubAppPrivateKeyFile   string `toml:"github_app_private_key_file"`
	// GithubAppPrivateKey is the PEM encoded private key, it takes
	// precedence over GithubAppPrivateKeyFile.
	GithubAppPrivateKey       string `toml:"github_app_private_key"`
	BotName                   string `toml:"bot_name"`
	PrometheusMetricsEndpoint string `toml:"prometheus_metrics_endpoint"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	// PullRequestFilter is an optional jq expression, pull requests are
	// only processed if it evaluates to true for the webhook event.
	PullRequestFilter        string `toml:"pull_request_filter"`
	WorkflowDiscoveryTimeout string `toml:"workflow_discovery_timeout"`
	GitExecutable            string `toml:"git_executable"`
	DryRun                   bool   `toml:"dry_run"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	return &result, nil
}

func (c *Config) setDefaults() {
	if c.HTTPGithubWebhookEndpoint == "" {
		c.HTTPGithubWebhookEndpoint = DefGithubWebhookEndpoint
	}

	if c.PrometheusMetricsEndpoint == "" {
		c.PrometheusMetricsEndpoint = DefPrometheusMetricsEndpoint
	}

	if c.BotName == "" {
		c.BotName = DefBotName
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.GitExecutable == "" {
		c.GitExecutable = DefGitExecutable
	}
}

// LoadDotEnv loads environment variables from the given .env files, or from
// ".env" in the working directory if none are passed.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil {
			continue
		}

		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		return fmt.Errorf("loading %s failed: %w", f, err)
	}

	return nil
}

// ApplyEnv overwrites configuration values with the values of the set
// environment variables.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv(EnvAppID); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("environment variable %s: %w", EnvAppID, err)
		}

		c.GithubAppID = id
	}

	if v, ok := lookupEnv(EnvPrivateKey); ok && v != "" {
		c.GithubAppPrivateKey = v
	}

	if v, ok := lookupEnv(EnvWebhookSecret); ok && v != "" {
		c.GithubWebHookSecret = v
	}

	if v, ok := lookupEnv(EnvBotName); ok && v != "" {
		c.BotName = v
	}

	return nil
}

// DiscoveryTimeout returns the parsed WorkflowDiscoveryTimeout.
func (c *Config) DiscoveryTimeout() (time.Duration, error) {
	if c.WorkflowDiscoveryTimeout == "" {
		return DefWorkflowDiscoveryTimeout, nil
	}

	d, err := time.ParseDuration(c.WorkflowDiscoveryTimeout)
	if err != nil {
		return 0, fmt.Errorf("workflow_discovery_timeout: %w", err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("workflow_discovery_timeout must be positive, is %s", d)
	}

	return d, nil
}

// PrivateKeyPEM returns the configured private key of the GitHub App.
func (c *Config) PrivateKeyPEM() ([]byte, error) {
	if c.GithubAppPrivateKey != "" {
		return []byte(c.GithubAppPrivateKey), nil
	}

	if c.GithubAppPrivateKeyFile == "" {
		return nil, errors.New("github_app_private_key_file or github_app_private_key must be set")
	}

	return os.ReadFile(c.GithubAppPrivateKeyFile)
}

func (c *Config) Validate() error {
	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		return errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is defined")
	}

	if c.GithubAppID <= 0 {
		return errors.New("github_app_id must be set")
	}

	if c.GithubAppPrivateKey == "" && c.GithubAppPrivateKeyFile == "" {
		return errors.New("github_app_private_key_file or github_app_private_key must be set")
	}

	if _, err := c.DiscoveryTimeout(); err != nil {
		return err
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
