// Package config loads runtime configuration: built-in defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drcokefloat/scanx-brief/internal/analyzer"
	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/jobs"
	"github.com/drcokefloat/scanx-brief/internal/registry"
	"github.com/drcokefloat/scanx-brief/internal/report"
)

const (
	DefaultConfigPath = "scanx.yml"

	defaultAddr            = ":8080"
	defaultDBPath          = "scanx.db"
	defaultShutdownTimeout = 15 * time.Second
	defaultPurgeInterval   = time.Hour
	defaultServiceName     = "scanx-brief"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Registry  RegistryConfig  `yaml:"registry"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Briefs    BriefsConfig    `yaml:"briefs"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Report    ReportConfig    `yaml:"report"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RegistryConfig struct {
	BaseURL     string        `yaml:"base_url"`
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxResults  int           `yaml:"max_results"`
	PageSize    int           `yaml:"page_size"`
	MaxPages    int           `yaml:"max_pages"`
	PageDelay   time.Duration `yaml:"page_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type AnalyzerConfig struct {
	Provider    string        `yaml:"provider"` // "openai" | "anthropic"
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type BriefsConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	ReportSampleSize int           `yaml:"report_sample_size"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
}

type JobsConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ReportConfig struct {
	ChromePath string        `yaml:"chrome_path"`
	PDFTimeout time.Duration `yaml:"pdf_timeout"`
	Paper      string        `yaml:"paper"` // "a4" | "letter"
	Landscape  bool          `yaml:"landscape"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"` // "development" | "production"
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: defaultAddr, ShutdownTimeout: defaultShutdownTimeout},
		Database: DatabaseConfig{Path: defaultDBPath},
		Registry: RegistryConfig{
			BaseURL:     registry.DefaultBaseURL,
			UserAgent:   registry.DefaultUserAgent,
			Timeout:     registry.DefaultTimeout,
			MaxResults:  registry.DefaultMaxResults,
			PageSize:    registry.DefaultPageSize,
			MaxPages:    registry.DefaultMaxPages,
			PageDelay:   registry.DefaultPageDelay,
			MaxAttempts: registry.DefaultMaxAttempts,
		},
		Analyzer: AnalyzerConfig{
			Provider:    analyzer.ProviderOpenAI,
			MaxTokens:   analyzer.DefaultMaxTokens,
			Temperature: analyzer.DefaultTemperature,
			Timeout:     analyzer.DefaultTimeout,
		},
		Briefs: BriefsConfig{
			TTL:              brief.DefaultTTL,
			ReportSampleSize: brief.DefaultReportSampleSize,
			PurgeInterval:    defaultPurgeInterval,
		},
		Jobs:   JobsConfig{Concurrency: jobs.DefaultConcurrency, Timeout: jobs.DefaultTimeout},
		Report: ReportConfig{PDFTimeout: report.DefaultPDFTimeout, Paper: report.DefaultPaper},
		Log:    LogConfig{Mode: "development", Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName: defaultServiceName,
			SampleRatio: 1,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An empty
// path skips the file; a missing DefaultConfigPath is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeYAML(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "SCANX_ADDR")
	setString(&c.Database.Path, "SCANX_DB_PATH")
	setString(&c.Log.Mode, "SCANX_LOG_MODE")
	setString(&c.Log.Level, "SCANX_LOG_LEVEL")
	setString(&c.Analyzer.Provider, "SCANX_ANALYZER_PROVIDER")
	setString(&c.Analyzer.Model, "SCANX_ANALYZER_MODEL")
	setString(&c.Report.ChromePath, "SCANX_CHROME_PATH")
	setString(&c.Report.Paper, "SCANX_PDF_PAPER")
	setString(&c.Registry.BaseURL, "CLINICALTRIALS_API_URL")

	switch strings.ToLower(c.Analyzer.Provider) {
	case analyzer.ProviderAnthropic:
		setString(&c.Analyzer.APIKey, "ANTHROPIC_API_KEY")
	default:
		setString(&c.Analyzer.APIKey, "OPENAI_API_KEY")
	}

	if err := setInt(&c.Registry.MaxResults, "CLINICALTRIALS_MAX_RESULTS"); err != nil {
		return err
	}
	if err := setInt(&c.Jobs.Concurrency, "SCANX_JOB_CONCURRENCY"); err != nil {
		return err
	}
	if err := setDuration(&c.Registry.Timeout, "CLINICALTRIALS_API_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Briefs.TTL, "SCANX_BRIEF_TTL"); err != nil {
		return err
	}

	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	setString(&c.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	if v, ok := lookup("OTEL_TRACES_SAMPLER_ARG"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		c.Telemetry.SampleRatio = f
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration syntax or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is required")
	}
	if u, err := neturl.Parse(c.Registry.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, "registry.base_url must be an absolute http(s) URL")
	}
	if c.Registry.MaxResults <= 0 {
		problems = append(problems, "registry.max_results must be positive")
	}
	if c.Registry.Timeout <= 0 {
		problems = append(problems, "registry.timeout must be positive")
	}
	switch strings.ToLower(c.Analyzer.Provider) {
	case analyzer.ProviderOpenAI, analyzer.ProviderAnthropic:
	default:
		problems = append(problems, fmt.Sprintf("analyzer.provider %q is not supported", c.Analyzer.Provider))
	}
	if c.Analyzer.Temperature < 0 || c.Analyzer.Temperature > 2 {
		problems = append(problems, "analyzer.temperature must be within [0, 2]")
	}
	switch strings.ToLower(c.Report.Paper) {
	case report.PaperA4, report.PaperLetter:
	default:
		problems = append(problems, fmt.Sprintf("report.paper %q is not supported", c.Report.Paper))
	}
	if c.Briefs.TTL <= 0 {
		problems = append(problems, "briefs.ttl must be positive")
	}
	if c.Briefs.PurgeInterval <= 0 {
		problems = append(problems, "briefs.purge_interval must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}
	if c.Jobs.Concurrency <= 0 {
		problems = append(problems, "jobs.concurrency must be positive")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "development", "dev", "production", "prod":
	default:
		problems = append(problems, fmt.Sprintf("log.mode %q is not supported", c.Log.Mode))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		problems = append(problems, "telemetry.endpoint is required when telemetry is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RegistryClientConfig maps the registry section onto the client's options.
func (c *Config) RegistryClientConfig() registry.Config {
	return registry.Config{
		BaseURL:     c.Registry.BaseURL,
		UserAgent:   c.Registry.UserAgent,
		Timeout:     c.Registry.Timeout,
		MaxResults:  c.Registry.MaxResults,
		PageSize:    c.Registry.PageSize,
		MaxPages:    c.Registry.MaxPages,
		PageDelay:   c.Registry.PageDelay,
		MaxAttempts: c.Registry.MaxAttempts,
	}
}

func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		Provider:    c.Analyzer.Provider,
		APIKey:      c.Analyzer.APIKey,
		BaseURL:     c.Analyzer.BaseURL,
		Model:       c.Analyzer.Model,
		MaxTokens:   c.Analyzer.MaxTokens,
		Temperature: analyzer.Float(c.Analyzer.Temperature),
		Timeout:     c.Analyzer.Timeout,
	}
}

func (c *Config) PDFOptions() report.PDFOptions {
	return report.PDFOptions{
		ChromePath: c.Report.ChromePath,
		Timeout:    c.Report.PDFTimeout,
		Paper:      c.Report.Paper,
		Landscape:  c.Report.Landscape,
	}
}

func (c *Config) ServiceConfig() brief.ServiceConfig {
	return brief.ServiceConfig{
		ReportSampleSize: c.Briefs.ReportSampleSize,
		TTL:              c.Briefs.TTL,
	}
}
