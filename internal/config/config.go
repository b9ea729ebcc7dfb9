package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDBFileName    = ".docgrid.db"
	DefaultBlobDirName   = ".docgrid-blobs"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultBlobBackend   = BackendLocal
	DefaultBlobDigest    = "sha256"
	DefaultReplacePolicy = "leave_orphaned"
	DefaultGCBatchSize   = 500

	BackendLocal  = "local"
	BackendBadger = "badger"
	BackendMemory = "memory"

	configFileName           = ".docgrid.toml"
	configDirEnvKey          = "DOCGRID_CONFIG_DIR"
	trustProjectConfigEnvKey = "DOCGRID_TRUST_PROJECT_CONFIG"
)

// BlobStoreConfig selects and tunes the blob backend.
type BlobStoreConfig struct {
	Backend  string `toml:"backend"`
	Root     string `toml:"root"`
	Digest   string `toml:"digest"`
	Compress bool   `toml:"compress"`
}

// AttachmentConfig defines attachment lifecycle policy.
type AttachmentConfig struct {
	ReplacePolicy string `toml:"replace_policy"`
	GCBatchSize   int    `toml:"gc_batch_size"`
}

// Config defines runtime configuration for docgrid.
type Config struct {
	DBPath                   string           `toml:"db_path"`
	LogLevel                 string           `toml:"log_level"`
	LogFormat                string           `toml:"log_format"`
	BlobStore                BlobStoreConfig  `toml:"blobstore"`
	Attachments              AttachmentConfig `toml:"attachments"`
	TrustedProjectConfigPath string           `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DBPath:   "",
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		BlobStore: BlobStoreConfig{
			Backend: DefaultBlobBackend,
			Digest:  DefaultBlobDigest,
		},
		Attachments: AttachmentConfig{
			ReplacePolicy: DefaultReplacePolicy,
			GCBatchSize:   DefaultGCBatchSize,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"db_path",
	"log_level",
	"log_format",
	"blobstore.backend",
	"blobstore.root",
	"blobstore.digest",
	"blobstore.compress",
	"attachments.replace_policy",
	"attachments.gc_batch_size",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "blobstore.backend":
		return c.BlobStore.Backend, nil
	case "blobstore.root":
		return c.BlobStore.Root, nil
	case "blobstore.digest":
		return c.BlobStore.Digest, nil
	case "blobstore.compress":
		return strconv.FormatBool(c.BlobStore.Compress), nil
	case "attachments.replace_policy":
		return c.Attachments.ReplacePolicy, nil
	case "attachments.gc_batch_size":
		return strconv.Itoa(c.Attachments.GCBatchSize), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
		if cfg.BlobStore.Root == "" {
			cfg.BlobStore.Root = filepath.Join(cwd, DefaultBlobDirName)
		}
	}

	if dbPath := os.Getenv("DOCGRID_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if root := os.Getenv("DOCGRID_BLOB_ROOT"); root != "" {
		cfg.BlobStore.Root = root
	}
	if backend := strings.TrimSpace(os.Getenv("DOCGRID_BLOB_BACKEND")); backend != "" {
		cfg.BlobStore.Backend = backend
	}
	if policy := strings.TrimSpace(os.Getenv("DOCGRID_REPLACE_POLICY")); policy != "" {
		cfg.Attachments.ReplacePolicy = policy
	}

	cfg.normalizeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	if _, err := parseSetValue("blobstore.backend", c.BlobStore.Backend); err != nil {
		return err
	}
	if _, err := parseSetValue("blobstore.digest", c.BlobStore.Digest); err != nil {
		return err
	}
	if _, err := parseSetValue("attachments.replace_policy", c.Attachments.ReplacePolicy); err != nil {
		return err
	}
	if _, err := parseSetValue("log_format", c.LogFormat); err != nil {
		return err
	}
	return nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "attachments.gc_batch_size":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "blobstore.compress":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "blobstore.backend":
		return oneOf(key, value, BackendLocal, BackendBadger, BackendMemory)
	case "blobstore.digest":
		return oneOf(key, value, "sha256", "blake2b")
	case "attachments.replace_policy":
		return oneOf(key, value, "leave_orphaned", "delete_old")
	case "log_level":
		return oneOf(key, value, "debug", "info", "warn", "warning", "error")
	case "log_format":
		return oneOf(key, value, "text", "json")
	default:
		return value, nil
	}
}

func oneOf(key, value string, allowed ...string) (string, error) {
	normalized := strings.ToLower(value)
	for _, a := range allowed {
		if normalized == a {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s", key, strings.Join(allowed, ", "))
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	c.BlobStore.Backend = strings.ToLower(strings.TrimSpace(c.BlobStore.Backend))
	if c.BlobStore.Backend == "" {
		c.BlobStore.Backend = DefaultBlobBackend
	}
	c.BlobStore.Digest = strings.ToLower(strings.TrimSpace(c.BlobStore.Digest))
	if c.BlobStore.Digest == "" {
		c.BlobStore.Digest = DefaultBlobDigest
	}
	c.Attachments.ReplacePolicy = strings.ToLower(strings.TrimSpace(c.Attachments.ReplacePolicy))
	if c.Attachments.ReplacePolicy == "" {
		c.Attachments.ReplacePolicy = DefaultReplacePolicy
	}
	if c.Attachments.GCBatchSize <= 0 {
		c.Attachments.GCBatchSize = DefaultGCBatchSize
	}
}
