package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendMemory    = "memory"
	BackendWebSocket = "websocket"
	BackendKafka     = "kafka"
	BackendRedis     = "redis"
)

// Unknown producer policies.
const (
	PolicyAutoRegister = "auto_register"
	PolicyReject       = "reject"
)

type Config struct {
	Environment     string        `yaml:"environment" default:"dev" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Ingest struct {
		Backend    string `yaml:"backend" default:"websocket" validate:"oneof=memory websocket kafka"`
		Addr       string `yaml:"addr" default:":5556"`
		Path       string `yaml:"path" default:"/ingest"`
		BufferSize int    `yaml:"buffer_size" default:"1024" validate:"gt=0"`
		Kafka      struct {
			Brokers    []string `yaml:"brokers"`
			Topic      string   `yaml:"topic" default:"target_portfolios"`
			GroupID    string   `yaml:"group_id" default:"kellymux"`
			StartLast  bool     `yaml:"start_last" default:"true"` // new groups skip backlog
			BufferSize int      `yaml:"buffer_size" default:"256"`
			MinBytes   int      `yaml:"min_bytes" default:"1"`
			MaxBytes   int      `yaml:"max_bytes" default:"10000000"`
		} `yaml:"kafka"`
	} `yaml:"ingest"`

	Output struct {
		Backend  string `yaml:"backend" default:"websocket" validate:"oneof=memory websocket kafka redis"`
		Addr     string `yaml:"addr" default:":5557"`
		Path     string `yaml:"path" default:"/stream"`
		Envelope bool   `yaml:"envelope"`
		Kafka    struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"aggregate_portfolio"`
			RequiredAcks int           `yaml:"required_acks" default:"1"`
			Compression  string        `yaml:"compression" default:"snappy"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"kafka"`
		Redis struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Channel  string `yaml:"channel" default:"kellymux:aggregate"`
		} `yaml:"redis"`
	} `yaml:"output"`

	Admin struct {
		Addr         string        `yaml:"addr" default:":5558" validate:"required"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"admin"`

	Multiplexer struct {
		KellyFraction float64       `yaml:"kelly_fraction" default:"0.3" validate:"gt=0,lte=1"`
		AggregateID   string        `yaml:"aggregate_id" default:"KellyMux_Aggregated" validate:"required"`
		UnknownPolicy string        `yaml:"unknown_client_policy" default:"auto_register" validate:"oneof=auto_register reject"`
		DefaultMu     float64       `yaml:"default_mu" default:"0.05"`
		DefaultSigma  float64       `yaml:"default_sigma" default:"0.2" validate:"gte=0"`
		StaleAfter    time.Duration `yaml:"stale_after"`
		Clients       []Client      `yaml:"clients" validate:"dive"`
	} `yaml:"multiplexer"`
}

// Client seeds one registry entry at startup.
type Client struct {
	ID    string  `yaml:"id" validate:"required"`
	Mu    float64 `yaml:"mu"`
	Sigma float64 `yaml:"sigma" validate:"gte=0"`
}

var validate = validator.New()

// DefaultClients is the registry seed used when the config names no clients.
func DefaultClients() []Client {
	return []Client{
		{ID: "StratA", Mu: 0.05, Sigma: 0.10},
		{ID: "StratB", Mu: 0.10, Sigma: 0.20},
	}
}

// seedClients fills the registry seed when the clients key is absent.
// An explicit empty list is kept empty.
func (c *Config) seedClients() {
	if c.Multiplexer.Clients == nil {
		c.Multiplexer.Clients = DefaultClients()
	}
}

// Default returns a validated configuration built from struct defaults only.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.seedClients()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.seedClients()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config (from path, or defaults when path is empty) and
// overrides it with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c, err = Default()
	} else {
		c, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv applies environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		return v, ok && v != ""
	}

	if v, ok := get("INGEST_ADDR"); ok {
		c.Ingest.Addr = v
	}
	if v, ok := get("OUTPUT_ADDR"); ok {
		c.Output.Addr = v
	}
	if v, ok := get("ADMIN_ADDR"); ok {
		c.Admin.Addr = v
	}
	if v, ok := get("INGEST_BACKEND"); ok {
		c.Ingest.Backend = v
	}
	if v, ok := get("OUTPUT_BACKEND"); ok {
		c.Output.Backend = v
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		brokers := strings.Split(v, ",")
		c.Ingest.Kafka.Brokers = brokers
		c.Output.Kafka.Brokers = brokers
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Output.Redis.Addr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("KELLY_FRACTION"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("KELLY_FRACTION: %w", err)
		}
		c.Multiplexer.KellyFraction = f
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	if c.Ingest.Backend == BackendKafka && len(c.Ingest.Kafka.Brokers) == 0 {
		return fmt.Errorf("ingest.kafka.brokers cannot be empty for kafka backend")
	}
	if c.Output.Backend == BackendKafka && len(c.Output.Kafka.Brokers) == 0 {
		return fmt.Errorf("output.kafka.brokers cannot be empty for kafka backend")
	}
	seen := make(map[string]struct{}, len(c.Multiplexer.Clients))
	for _, cl := range c.Multiplexer.Clients {
		if _, dup := seen[cl.ID]; dup {
			return fmt.Errorf("multiplexer.clients: duplicate id %q", cl.ID)
		}
		seen[cl.ID] = struct{}{}
	}
	return nil
}
