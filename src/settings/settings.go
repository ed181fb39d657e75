package settings

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type Arguments struct {
	// The file path to the badger data files. Empty means in-memory only.
	DataDir string

	LogDir string

	ConfigFile string

	// Path to the SDL schema file consumed by the binder
	SchemaFile string

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	// Strongly verbose logging
	Verbose bool

	Debug bool

	// Shared service secret. When empty the auth gate is bypassed and the
	// server runs in explicit unauthenticated mode.
	Secret string

	// Path to the encrypted permanent token store. Empty disables it.
	TokenStoreFile string

	PrintToScreen bool

	Version string
}

// fileConfig mirrors the YAML config file surface. Flags win over the file.
type fileConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DataDir    string `yaml:"datadir"`
	SchemaFile string `yaml:"schema"`
	Secret     string `yaml:"secret"`
	TokenStore string `yaml:"tokenstore"`
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the singleton settings instance
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{}
	})
	return instance
}

// LoadConfigFile merges values from the YAML config file into args for every
// field the command line left at its zero value.
func LoadConfigFile(args *Arguments) error {
	if args.ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(args.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if args.Host == "" {
		args.Host = cfg.Host
	}
	if args.Port == 0 {
		args.Port = cfg.Port
	}
	if args.DataDir == "" {
		args.DataDir = cfg.DataDir
	}
	if args.SchemaFile == "" {
		args.SchemaFile = cfg.SchemaFile
	}
	if args.Secret == "" {
		args.Secret = cfg.Secret
	}
	if args.TokenStoreFile == "" {
		args.TokenStoreFile = cfg.TokenStore
	}

	return nil
}
