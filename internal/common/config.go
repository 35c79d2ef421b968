package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Connector   ConnectorConfig `toml:"connector"`
	Logging     LoggingConfig   `toml:"logging"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Mail        MailConfig      `toml:"mail"`
}

// ConnectorConfig is the top-level crawl task configuration. The key names
// mirror the historical property surface of the connector.
type ConnectorConfig struct {
	Name                 string   `toml:"name" validate:"required"`
	InstallPath          string   `toml:"install_path" validate:"required"` // Root for data/crawler/<crawl-id> and logs
	RunSleepBetween      string   `toml:"run_sleep_between"`                // Minutes between crawl reviews in service mode; accepts "Nm" or "N"
	RunSleepStartupDelay int      `toml:"run_sleep_startup_delay"`          // Seconds to wait before first crawl
	PhaseList            []string `toml:"phase_list" validate:"dive,oneof=All Snapshot Extract Transform Publish"`
	QueueWaitTimeout     int      `toml:"queue_wait_timeout"` // Per-poll timeout in seconds
	FullRunInterval      string   `toml:"full_run_interval"`  // Minimum minutes between full crawls; "Nm" or "N"
	IncrRunInterval      string   `toml:"incr_run_interval"`  // Minimum minutes between incremental crawls; "Nm" or "N"
	SchemaFile           string   `toml:"schema_file"`        // Document schema definition (YAML)
	DocumentType         string   `toml:"document_type"`      // Type tag assigned to extracted documents

	Extract   ExtractConfig   `toml:"extract"`
	Transform TransformConfig `toml:"transform"`
	Publish   PublishConfig   `toml:"publish"`
	Solr      SolrConfig      `toml:"solr"`
}

// ExtractConfig configures the extract stage and its source driver.
type ExtractConfig struct {
	Driver           string   `toml:"driver" validate:"omitempty,oneof=filesystem web"`
	QueueLength      int      `toml:"queue_length" validate:"gte=1"`
	ThreadCount      int      `toml:"thread_count" validate:"gte=1"` // Accepted for parity with the other stages; both drivers crawl single-threaded (politeness and watermark ordering), so values above 1 have no effect
	StartLocations   []string `toml:"start_locations"` // File paths or URLs
	FollowPatterns   []string `toml:"follow_patterns"` // Regex; a location is visited only if follow matches and ignore does not
	IgnorePatterns   []string `toml:"ignore_patterns"`
	CrawlMaxPages    int      `toml:"crawl_max_pages"`    // 0 = unlimited
	PolitenessDelay  int      `toml:"politeness_delay"`   // Milliseconds between requests to the same host
	FollowRedirects  bool     `toml:"follow_redirects"`   //
	CrawlAgentString string   `toml:"crawl_agent_string"` // User-Agent header
	ProxyHostName    string   `toml:"proxy_host_name"`
	ProxyPortNumber  int      `toml:"proxy_port_number"`
	ProxyAccount     string   `toml:"proxy_account"`
	ProxyPassword    string   `toml:"proxy_password"`
	CrawlJavascript  bool     `toml:"crawl_javascript"` // Accepted for compatibility; JS rendering is a driver policy
	IDValuePrefix    string   `toml:"id_value_prefix"`  // Prepended to every derived document id
}

// TransformConfig configures the transform stage.
type TransformConfig struct {
	QueueLength int      `toml:"queue_length" validate:"gte=1"`
	ThreadCount int      `toml:"thread_count" validate:"gte=1"`
	Units       []string `toml:"units"` // Ordered transformer names applied to each document
}

// PublishConfig configures the publish stage and its batching thresholds.
type PublishConfig struct {
	QueueLength            int      `toml:"queue_length" validate:"gte=1"`
	ThreadCount            int      `toml:"thread_count" validate:"gte=1"`
	PipeLine               []string `toml:"pipe_line"`                // Ordered publisher names
	UploadEnabled          bool     `toml:"upload_enabled"`           // Send batches to the index
	SaveFiles              bool     `toml:"save_files"`               // Keep the crawl working directory after completion
	OptimizeUponCompletion bool     `toml:"optimize_upon_completion"` // Issue an optimize at shutdown
	FeedMaximumCount       int      `toml:"feed_maximum_count"`       // Hard cap on forwarded documents; <=0 = unlimited
	FeedBatchCount         int      `toml:"feed_batch_count"`         // Documents per index add operation
	FeedCommitCount        int      `toml:"feed_commit_count"`        // Cumulative documents between commits
	ArchiveEnabled         bool     `toml:"archive_enabled"`          // Mirror batches to XML archive files
}

// SolrConfig configures the index client.
type SolrConfig struct {
	URL            string `toml:"url"`  // e.g. http://localhost:8983/solr
	Core           string `toml:"core"` // Collection/core name
	Account        string `toml:"account"`
	Password       string `toml:"password"`
	RequestTimeout int    `toml:"request_timeout"`   // Seconds
	RateLimit      int    `toml:"rate_limit"`        // Requests per second; <=0 = unlimited
	PrimaryKeyName string `toml:"primary_key_name"`  // Overrides the schema primary-key field name on the wire
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ServerConfig configures the optional status HTTP endpoint.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig configures the embedded snapshot store.
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// MailConfig configures the SMTP crawl-summary notification.
type MailConfig struct {
	Enabled  bool     `toml:"enabled"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	From     string   `toml:"from"`
	FromName string   `toml:"from_name"`
	To       []string `toml:"to"`
	UseTLS   bool     `toml:"use_tls"`
}

// Defaults mirror the historical connector defaults: batch=100, commit=10000,
// max unlimited, queue length 1000, thread count 1, poll timeout 5s.
func DefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Connector: ConnectorConfig{
			Name:                 "expiscor",
			InstallPath:          ".",
			RunSleepBetween:      "15m",
			RunSleepStartupDelay: 0,
			PhaseList:            []string{"All"},
			QueueWaitTimeout:     5,
			FullRunInterval:      "1440m",
			IncrRunInterval:      "60m",
			DocumentType:         "Document",
			Extract: ExtractConfig{
				Driver:           "filesystem",
				QueueLength:      1000,
				ThreadCount:      1,
				PolitenessDelay:  1000,
				FollowRedirects:  true,
				CrawlAgentString: "Expiscor/" + Version,
			},
			Transform: TransformConfig{
				QueueLength: 1000,
				ThreadCount: 1,
			},
			Publish: PublishConfig{
				QueueLength:      1000,
				ThreadCount:      1,
				PipeLine:         []string{"solr"},
				UploadEnabled:    true,
				FeedMaximumCount: 0,
				FeedBatchCount:   100,
				FeedCommitCount:  10000,
			},
			Solr: SolrConfig{
				URL:            "http://localhost:8983/solr",
				Core:           "expiscor",
				RequestTimeout: 30,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8985,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "data/snapshot",
			},
		},
		Mail: MailConfig{
			Port:     587,
			UseTLS:   true,
			FromName: "Expiscor",
		},
	}
}

// LoadFromFiles loads configuration by layering defaults, the given TOML files
// in order (later files override earlier ones), then environment overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies EXPISCOR_* environment variables over file values.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EXPISCOR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("EXPISCOR_INSTALL_PATH"); v != "" {
		config.Connector.InstallPath = v
	}
	if v := os.Getenv("EXPISCOR_SOLR_URL"); v != "" {
		config.Connector.Solr.URL = v
	}
	if v := os.Getenv("EXPISCOR_SOLR_CORE"); v != "" {
		config.Connector.Solr.Core = v
	}
	if v := os.Getenv("EXPISCOR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
}

// ApplyFlagOverrides applies command-line overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for structural errors. Invalid
// configuration is fatal at initialization; the crawl does not start.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := ParseMinutes(c.Connector.RunSleepBetween); err != nil {
		return fmt.Errorf("invalid connector.run_sleep_between: %w", err)
	}
	if _, err := ParseMinutes(c.Connector.FullRunInterval); err != nil {
		return fmt.Errorf("invalid connector.full_run_interval: %w", err)
	}
	if _, err := ParseMinutes(c.Connector.IncrRunInterval); err != nil {
		return fmt.Errorf("invalid connector.incr_run_interval: %w", err)
	}
	if len(c.Connector.Publish.PipeLine) == 0 {
		return fmt.Errorf("invalid configuration: connector.publish.pipe_line is empty")
	}
	return nil
}

// ParseMinutes parses a minutes value that accepts "Nm" or a bare "N".
func ParseMinutes(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	value = strings.TrimSuffix(value, "m")
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("expected minutes as \"Nm\" or \"N\": %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative minutes: %d", n)
	}
	return time.Duration(n) * time.Minute, nil
}

// QueuePollTimeout returns the per-poll timeout as a duration.
func (c *ConnectorConfig) QueuePollTimeout() time.Duration {
	if c.QueueWaitTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.QueueWaitTimeout) * time.Second
}

// SinglePass reports whether the phase list selects a subset of phases,
// which drives the connector as a single-pass command instead of a service.
func (c *ConnectorConfig) SinglePass() bool {
	for _, phase := range c.PhaseList {
		if phase == "All" {
			return false
		}
	}
	return len(c.PhaseList) > 0
}

// HasPhase reports whether the named phase is selected by phase_list.
func (c *ConnectorConfig) HasPhase(name string) bool {
	for _, phase := range c.PhaseList {
		if phase == "All" || phase == name {
			return true
		}
	}
	return false
}
