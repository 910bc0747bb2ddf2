// Package config loads the YAML configuration file and manages the
// installation's stable instance identity.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inkwell/inkwell/internal/history"
	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings ("30m", "5s") as well as plain integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Relay configures the websocket sync fabric.
type Relay struct {
	// Addr is the relay endpoint. For the relay command it is the
	// listen address; for everything else it is the dial target.
	Addr string `yaml:"addr"`
}

// Config is the on-disk configuration. Zero values fall back to
// Default() during Load.
type Config struct {
	// DataDir holds the per-note update log directories.
	DataDir string `yaml:"data_dir"`

	// CheckpointDB is the path of the SQLite checkpoint database.
	CheckpointDB string `yaml:"checkpoint_db"`

	// InactivityGap closes a history session after this much quiet.
	InactivityGap Duration `yaml:"inactivity_gap"`

	// EchoTTL bounds how long a published update is suppressed when it
	// echoes back from the fabric.
	EchoTTL Duration `yaml:"echo_ttl"`

	Relay Relay `yaml:"relay"`

	// InstanceID pins the instance identity. Leave empty to let
	// EnsureInstanceID mint and persist one.
	InstanceID string `yaml:"instance_id,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir:       "data",
		CheckpointDB:  filepath.Join("data", "checkpoints.db"),
		InactivityGap: Duration(history.DefaultInactivityGap),
		EchoTTL:       Duration(replica.DefaultEchoTTL),
	}
}

// Load reads the YAML file at path, fills gaps from Default, and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.CheckpointDB == "" {
		c.CheckpointDB = filepath.Join(c.DataDir, "checkpoints.db")
	}
	if c.InactivityGap == 0 {
		c.InactivityGap = def.InactivityGap
	}
	if c.EchoTTL == 0 {
		c.EchoTTL = def.EchoTTL
	}
}

// Validate checks field-level constraints. Errors name the offending
// field using its YAML key.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.InactivityGap < 0 {
		return fmt.Errorf("config: inactivity_gap must not be negative")
	}
	if c.EchoTTL < 0 {
		return fmt.Errorf("config: echo_ttl must not be negative")
	}
	if c.InstanceID != "" && strings.ContainsAny(c.InstanceID, "_/\\") {
		return fmt.Errorf("config: instance_id must not contain '_', '/' or '\\'")
	}
	return nil
}

// EnsureInstanceID returns the installation's stable instance
// identity, minting and persisting a fresh one at path on first use.
// The identity must survive restarts: sequence numbers are scoped per
// instance, so a new id on every boot would fragment the log.
func EnsureInstanceID(path string) (record.InstanceID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id == "" {
			return "", fmt.Errorf("instance id file %s is empty", path)
		}
		return record.InstanceID(id), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read instance id: %w", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create instance id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return record.InstanceID(id), nil
}

// ResolveInstanceID resolves the effective instance identity: the pinned
// config value when set, otherwise the persisted installation id.
func (c Config) ResolveInstanceID() (record.InstanceID, error) {
	if c.InstanceID != "" {
		return record.InstanceID(c.InstanceID), nil
	}
	return EnsureInstanceID(filepath.Join(c.DataDir, "instance-id"))
}
