package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AgentConfig describes how the controller reaches a subordinate agent.
type AgentConfig struct {
	// Transport is stdio or sse.
	Transport string `mapstructure:"transport"`
	// Command and Args start the agent process for stdio. An empty Command
	// means the running loanflow binary.
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// URL is the agent's SSE endpoint, e.g. http://127.0.0.1:8081/sse.
	URL string `mapstructure:"url"`
}

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	DB struct {
		// Driver is pgx (PostgreSQL), mysql or sqlite3.
		Driver   string `mapstructure:"driver"`
		DSN      string `mapstructure:"dsn"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int    `mapstructure:"max_conns"`
		MaxIdle  int    `mapstructure:"max_idle"`
	} `mapstructure:"db"`
	Documents struct {
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"documents"`
	Queue struct {
		Addr      string        `mapstructure:"addr"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		Stream    string        `mapstructure:"stream"`
		Group     string        `mapstructure:"group"`
		Consumer  string        `mapstructure:"consumer"`
		Block     time.Duration `mapstructure:"block"`
		ClaimIdle time.Duration `mapstructure:"claim_idle"`
	} `mapstructure:"queue"`
	Ingest struct {
		ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"ingest"`
	Controller struct {
		StepTimeout     time.Duration `mapstructure:"step_timeout"`
		ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
		MarkInProgress  bool          `mapstructure:"mark_in_progress"`
		Concurrency     int           `mapstructure:"concurrency"`
	} `mapstructure:"controller"`
	Agents struct {
		CommercialLoan AgentConfig `mapstructure:"commercial_loan"`
		StatusLogging  AgentConfig `mapstructure:"status_logging"`
	} `mapstructure:"agents"`
	Approval struct {
		// Mode is simulated or http.
		Mode         string        `mapstructure:"mode"`
		URL          string        `mapstructure:"url"`
		Delay        time.Duration `mapstructure:"delay"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"approval"`
	API struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"api"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Dir    string `mapstructure:"dir"`
	} `mapstructure:"logging"`

	// ConfigFile is the file viper read, if any.
	ConfigFile string `mapstructure:"-"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DBDSN returns the configured data source name, building a PostgreSQL
// keyword/value string from the discrete fields when no DSN is set.
func (c *Config) DBDSN() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", false)

	v.SetDefault("db.driver", "pgx")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "loanflow")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "workflowdb")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.max_idle", 5)

	v.SetDefault("documents.uri", "mongodb://localhost:27017")
	v.SetDefault("documents.database", "WorkflowDB")
	v.SetDefault("documents.collection", "Messages")

	v.SetDefault("queue.addr", "localhost:6379")
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.stream", "workflow-receive")
	v.SetDefault("queue.group", "ingest")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.block", 5*time.Second)
	v.SetDefault("queue.claim_idle", time.Minute)

	v.SetDefault("ingest.shutdown_grace", 30*time.Second)

	v.SetDefault("controller.step_timeout", 2*time.Minute)
	v.SetDefault("controller.approval_timeout", 30*time.Minute)
	v.SetDefault("controller.mark_in_progress", true)
	v.SetDefault("controller.concurrency", 4)

	v.SetDefault("agents.commercial_loan.transport", "stdio")
	v.SetDefault("agents.commercial_loan.command", "")
	v.SetDefault("agents.commercial_loan.args", []string{"agent", "commercial-loan", "--transport", "stdio"})
	v.SetDefault("agents.commercial_loan.url", "")
	v.SetDefault("agents.status_logging.transport", "stdio")
	v.SetDefault("agents.status_logging.command", "")
	v.SetDefault("agents.status_logging.args", []string{"agent", "status-logging", "--transport", "stdio"})
	v.SetDefault("agents.status_logging.url", "")

	v.SetDefault("approval.mode", "simulated")
	v.SetDefault("approval.url", "")
	v.SetDefault("approval.delay", 10*time.Second)
	v.SetDefault("approval.poll_interval", 5*time.Second)

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.swagger_client_id", "")

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "logs")
}

// LoadConfig loads the configuration from an optional .env file, a config
// file and the environment. Environment variables use the LOANFLOW_ prefix
// with dots replaced by underscores (LOANFLOW_DB_DSN).
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("LOANFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.ConfigFile = v.ConfigFileUsed()

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
