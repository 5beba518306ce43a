// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/backend"
	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/gcp"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
	"github.com/Lllllllleong/documentworkflow/internal/taskqueue"
	"gopkg.in/yaml.v3"
)

const (
	defaultRedisAddr   = "localhost:6379"
	defaultVertexModel = gcp.DefaultExtractionModel
	defaultRegion      = "us-central1"
	defaultMaxPages    = 20
	defaultStatusTTL   = 24 * time.Hour
)

// Config is the runtime configuration of the gateway and the worker.
type Config struct {
	ProjectID string `yaml:"project_id"`

	// Buckets maps projects to logical bucket names; S3Buckets maps logical
	// names to physical ones.
	Buckets      bucket.Map        `yaml:"buckets"`
	S3Buckets    map[string]string `yaml:"s3_buckets"`
	SupportTypes []string          `yaml:"support_types"`

	// Steps adds or overrides step definitions, keyed by step name.
	Steps map[string]steps.Definition `yaml:"steps"`

	Backend   backend.Config      `yaml:"backend"`
	Redis     statusstore.Options `yaml:"redis"`
	StatusTTL time.Duration       `yaml:"status_ttl"`
	Queue     taskqueue.Config    `yaml:"queue"`
	Vertex    VertexConfig        `yaml:"vertex"`
}

// VertexConfig selects the model that extracts PDF orders.
type VertexConfig struct {
	Region   string `yaml:"region"`
	Model    string `yaml:"model"`
	MaxPages int    `yaml:"max_pages"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	cfg.ApplyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides deployment-specific values from the environment.
func (c *Config) ApplyEnv() {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.Backend.BaseURL = gcp.GetEnv("BACKEND_URL", c.Backend.BaseURL)
	c.Backend.ClientID = gcp.GetEnv("BACKEND_CLIENT_ID", c.Backend.ClientID)
	c.Backend.ClientSecret = gcp.GetEnv("BACKEND_CLIENT_SECRET", c.Backend.ClientSecret)
	c.Redis.Addr = gcp.GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = gcp.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		c.Redis.DB = db
	}
	c.Queue.Provider = gcp.GetEnv("QUEUE_PROVIDER", c.Queue.Provider)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Queue.Brokers = strings.Split(brokers, ",")
	}
	c.Vertex.Region = gcp.GetEnv("VERTEX_REGION", c.Vertex.Region)
}

func (c *Config) SetDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	if c.Vertex.Region == "" {
		c.Vertex.Region = defaultRegion
	}
	if c.Vertex.Model == "" {
		c.Vertex.Model = defaultVertexModel
	}
	if c.Vertex.MaxPages <= 0 {
		c.Vertex.MaxPages = defaultMaxPages
	}
	c.Queue.SetDefaults()
}

// Validate reports every missing required section at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Buckets.Raw) == 0 {
		errs = append(errs, errors.New("buckets.raw_bucket must not be empty"))
	}
	if len(c.Buckets.Target) == 0 {
		errs = append(errs, errors.New("buckets.target_bucket must not be empty"))
	}
	if len(c.SupportTypes) == 0 {
		errs = append(errs, errors.New("support_types must not be empty"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Registry returns the built-in step table with the configured overrides applied.
func (c *Config) Registry() (*steps.Registry, error) {
	registry := steps.NewDefaultRegistry()
	if err := registry.Apply(c.Steps); err != nil {
		return nil, fmt.Errorf("failed to apply step overrides: %w", err)
	}
	return registry, nil
}

// Resolver returns the bucket resolver for the configured maps.
func (c *Config) Resolver() *bucket.Resolver {
	return bucket.NewResolver(c.Buckets, c.S3Buckets)
}
