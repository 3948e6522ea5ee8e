// Package config handles configuration loading from YAML (or legacy
// .properties) files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file >
// embedded config > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "10s", "1m30s", or integer seconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ParseDuration accepts a Go duration string or a plain integer number of
// seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Consumer types.
const (
	ConsumerCSV    = "csv"
	ConsumerSQLite = "sqlite"
	ConsumerHTTP   = "http"
)

// Config holds all databot configuration.
type Config struct {
	Collection CollectionConfig `yaml:"collection"`
	Sources    []SourceConfig   `yaml:"sources,omitempty"`
	Metrics    []MetricConfig   `yaml:"metrics"`
	Consumers  []ConsumerConfig `yaml:"consumers"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

// CollectionConfig holds collection engine settings.
type CollectionConfig struct {
	Interval      Duration `yaml:"interval"`
	RunTimeout    Duration `yaml:"run_timeout,omitempty"`
	QueueCapacity int      `yaml:"queue_capacity"`
	Workers       int      `yaml:"workers"`
	MaxExecutions int      `yaml:"max_executions"`
	EagerStart    bool     `yaml:"eager_start"`
	ConsumerMode  string   `yaml:"consumer_mode"`
	StopTimeout   Duration `yaml:"stop_timeout"`
}

// SourceConfig declares a named metric source. Either Address (a literal
// such as "jmx://admin@app:8778") or Host/Port may be given.
type SourceConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type,omitempty"`
	Address  string   `yaml:"address,omitempty"`
	Host     string   `yaml:"host,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// MetricConfig names one metric. In YAML it is either a mapping
// ({id, source} or {id, address}) or a string: a bare ID for the local OS,
// or an address literal followed by "/ID".
type MetricConfig struct {
	ID      string `yaml:"id"`
	Source  string `yaml:"source,omitempty"`
	Address string `yaml:"address,omitempty"`
}

// UnmarshalYAML accepts both the string and the mapping form.
func (m *MetricConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseMetric(value.Value)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case yaml.MappingNode:
		type plain MetricConfig
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*m = MetricConfig(p)
		return nil
	default:
		return fmt.Errorf("line %d: invalid metric definition", value.Line)
	}
}

// ParseMetric parses the string form of a metric.
func ParseMetric(s string) (MetricConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MetricConfig{}, fmt.Errorf("empty metric definition")
	}
	_, rest, ok := strings.Cut(s, "://")
	if !ok {
		return MetricConfig{ID: s}, nil
	}
	i := strings.IndexByte(rest, '/')
	if i < 0 || i == len(rest)-1 {
		return MetricConfig{}, fmt.Errorf("metric definition %q: missing metric id after address", s)
	}
	literal := s[:len(s)-len(rest)+i]
	return MetricConfig{ID: rest[i+1:], Address: literal}, nil
}

// ConsumerConfig declares one consumer. Fields apply per type.
type ConsumerConfig struct {
	Type string `yaml:"type"`

	// csv, sqlite
	Path string `yaml:"path,omitempty"`

	// csv
	Append          *bool  `yaml:"append,omitempty"`
	TimestampFormat string `yaml:"timestamp_format,omitempty"`
	NoHeader        bool   `yaml:"no_header,omitempty"`

	// sqlite
	Retention Duration `yaml:"retention,omitempty"`

	// http
	URL        string   `yaml:"url,omitempty"`
	Token      string   `yaml:"token,omitempty"`
	BatchSize  int      `yaml:"batch_size,omitempty"`
	MaxRetries int      `yaml:"max_retries,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
	SpoolDir   string   `yaml:"spool_dir,omitempty"`
	SpoolMaxMB int      `yaml:"spool_max_mb,omitempty"`
}

// AppendMode reports whether a csv consumer keeps existing file content.
// It defaults to true.
func (c ConsumerConfig) AppendMode() bool {
	return c.Append == nil || *c.Append
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// APIConfig holds the status API settings. An empty Listen disables it.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the default configuration: local memory and CPU
// metrics every 10 seconds, written as CSV to stdout.
func DefaultConfig() *Config {
	return &Config{
		Collection: CollectionConfig{
			Interval:      Duration{10 * time.Second},
			QueueCapacity: 10,
			Workers:       5,
			ConsumerMode:  "broadcast",
			StopTimeout:   Duration{10 * time.Second},
		},
		Metrics: []MetricConfig{
			{ID: "PhysicalMemoryFree"},
			{ID: "CpuUserTime"},
			{ID: "LoadAverageLastMinute"},
		},
		Consumers: []ConsumerConfig{
			{Type: ConsumerCSV, Path: "-"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings and nil pointers are treated as "not set" and skipped.
type CLIOverrides struct {
	LogLevel      string
	MaxExecutions *int
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads a single configuration file over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	return LoadLayered(CLIOverrides{}, nil, path)
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value → use that path ("" means no external file)
//
// Unlike the embedded layer, an explicitly named file must exist.
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	// Layer 1: embedded config
	if len(strings.TrimSpace(string(embedded))) > 0 {
		if err := decodeYAML(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	// Layer 2: external file
	var filePath string
	explicit := len(configPath) > 0
	if explicit {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, fmt.Errorf("configuration file %s does not exist or cannot be read: %w", filePath, err)
			}
		} else if err := decodeFile(filePath, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
		}
	}

	// Layer 3: environment variables
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Layer 4: CLI flags
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.MaxExecutions != nil {
		cfg.Collection.MaxExecutions = *cli.MaxExecutions
	}

	return cfg, nil
}

func decodeFile(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".properties") {
		return applyProperties(data, cfg)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("empty configuration file")
	}
	return decodeYAML(data, cfg)
}

// decodeYAML expands ${VAR} references and decodes data over cfg. Lists in
// data replace the lists already in cfg.
func decodeYAML(data []byte, cfg *Config) error {
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return err
	}
	return yaml.Unmarshal([]byte(expanded), cfg)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references with environment values. A
// reference to an unset variable is an error.
func ExpandEnv(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, ref)
			return ref
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable(s) %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if level := os.Getenv("DATABOT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if listen := os.Getenv("DATABOT_API_LISTEN"); listen != "" {
		cfg.API.Listen = listen
	}
	if s := os.Getenv("DATABOT_MAX_EXECUTIONS"); s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid DATABOT_MAX_EXECUTIONS value: %q", s)
		}
		cfg.Collection.MaxExecutions = n
	}
	if s := os.Getenv("DATABOT_SAMPLING_INTERVAL"); s != "" {
		d, err := ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid DATABOT_SAMPLING_INTERVAL value: %w", err)
		}
		cfg.Collection.Interval = Duration{d}
	}
	return nil
}

// Validate checks that the configuration can be turned into a running
// databot.
func (c *Config) Validate() error {
	if c.Collection.Interval.Duration <= 0 {
		return fmt.Errorf("collection interval must be positive (got %s)", c.Collection.Interval.Duration)
	}
	if c.Collection.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive (got %d)", c.Collection.QueueCapacity)
	}
	if c.Collection.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Collection.Workers)
	}
	if c.Collection.MaxExecutions < 0 {
		return fmt.Errorf("max executions must not be negative (got %d)", c.Collection.MaxExecutions)
	}
	switch c.Collection.ConsumerMode {
	case "", "broadcast", "compete":
	default:
		return fmt.Errorf("unknown consumer mode %q", c.Collection.ConsumerMode)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if _, err := c.SourceDefinitions(); err != nil {
		return err
	}
	if len(c.Metrics) == 0 {
		return fmt.Errorf("no metrics configured")
	}

	for i, cc := range c.Consumers {
		switch cc.Type {
		case ConsumerCSV:
		case ConsumerSQLite:
			if cc.Path == "" {
				return fmt.Errorf("consumer %d (sqlite): missing 'path'", i)
			}
		case ConsumerHTTP:
			if cc.URL == "" {
				return fmt.Errorf("consumer %d (http): missing 'url'", i)
			}
		default:
			return fmt.Errorf("consumer %d: unknown consumer type %q", i, cc.Type)
		}
	}
	return nil
}

// declared resolves the explicitly declared sources, keyed by name.
func (c *Config) declared() ([]models.MetricSourceDefinition, map[string]int, error) {
	defs := make([]models.MetricSourceDefinition, 0, len(c.Sources))
	byName := make(map[string]int, len(c.Sources))
	seen := make(map[address.Address]string, len(c.Sources))

	for _, sc := range c.Sources {
		if sc.Name == "" {
			return nil, nil, fmt.Errorf("metric source declaration without a name")
		}
		if _, dup := byName[sc.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate metric source name %q", sc.Name)
		}
		def, err := sc.definition()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid metric source declaration %q: %w", sc.Name, err)
		}
		if other, dup := seen[def.Address]; dup {
			return nil, nil, fmt.Errorf("metric sources %q and %q share address %s", other, sc.Name, def.Address)
		}
		seen[def.Address] = sc.Name
		byName[sc.Name] = len(defs)
		defs = append(defs, def)
	}
	return defs, byName, nil
}

func (sc SourceConfig) definition() (models.MetricSourceDefinition, error) {
	var a address.Address
	switch {
	case sc.Address != "":
		parsed, err := address.Parse(sc.Address)
		if err != nil {
			return models.MetricSourceDefinition{}, err
		}
		a = parsed
	case sc.Type == "" || sc.Type == string(models.SourceTypeLocal):
		if sc.Host != "" {
			return models.MetricSourceDefinition{}, fmt.Errorf("a local source has no host")
		}
		a = address.Local()
	default:
		if sc.Host == "" {
			return models.MetricSourceDefinition{}, fmt.Errorf("missing 'host' or 'address'")
		}
		a = address.Address{Protocol: sc.Type, Host: sc.Host, Port: sc.Port}
	}
	if sc.Username != "" {
		a.Username = sc.Username
	}

	st := models.SourceType(sc.Type)
	if st == "" {
		inferred, ok := models.SourceTypeForProtocol(a.Protocol)
		if !ok {
			return models.MetricSourceDefinition{}, fmt.Errorf("cannot infer source type from protocol %q", a.Protocol)
		}
		st = inferred
	}
	switch st {
	case models.SourceTypeLocal, models.SourceTypeJMX, models.SourceTypeJBoss:
	default:
		return models.MetricSourceDefinition{}, fmt.Errorf("unknown source type %q", sc.Type)
	}

	return models.MetricSourceDefinition{
		Name:     sc.Name,
		Type:     st,
		Address:  a,
		Password: sc.Password,
		Path:     sc.Path,
		Timeout:  sc.Timeout.Duration,
	}, nil
}

// resolve binds each metric to a source address. Metric addresses with no
// matching declaration are returned as implicit sources, in first-use order.
func (c *Config) resolve() ([]models.MetricSourceDefinition, []models.MetricDefinition, error) {
	defs, byName, err := c.declared()
	if err != nil {
		return nil, nil, err
	}
	known := make(map[address.Address]bool, len(defs))
	for _, d := range defs {
		known[d.Address] = true
	}

	metrics := make([]models.MetricDefinition, 0, len(c.Metrics))
	for _, mc := range c.Metrics {
		if strings.TrimSpace(mc.ID) == "" {
			return nil, nil, fmt.Errorf("metric definition without an id")
		}
		var a address.Address
		switch {
		case mc.Source != "":
			i, ok := byName[mc.Source]
			if !ok {
				return nil, nil, fmt.Errorf("metric %q refers to undeclared source %q", mc.ID, mc.Source)
			}
			a = defs[i].Address
		case mc.Address != "":
			parsed, err := address.Parse(mc.Address)
			if err != nil {
				return nil, nil, fmt.Errorf("metric %q: %w", mc.ID, err)
			}
			a = parsed
		default:
			a = address.Local()
		}

		if !known[a] {
			st, ok := models.SourceTypeForProtocol(a.Protocol)
			if !ok {
				return nil, nil, fmt.Errorf("metric %q: no source type handles protocol %q", mc.ID, a.Protocol)
			}
			defs = append(defs, models.MetricSourceDefinition{Name: a.Literal(), Type: st, Address: a})
			known[a] = true
		}
		metrics = append(metrics, models.MetricDefinition{ID: mc.ID, Address: a})
	}
	return defs, metrics, nil
}

// SourceDefinitions returns the declared sources followed by the sources
// implied by metric addresses.
func (c *Config) SourceDefinitions() ([]models.MetricSourceDefinition, error) {
	defs, _, err := c.resolve()
	return defs, err
}

// MetricDefinitions returns the metrics in configuration order, each bound
// to its source address.
func (c *Config) MetricDefinitions() ([]models.MetricDefinition, error) {
	_, metrics, err := c.resolve()
	return metrics, err
}
