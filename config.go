package models

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding the config file path.
const ConfigEnvVar = "VIRUSNET_CONFIG"

// FileConfig is the YAML configuration file of the CLI.
// Every field is optional; command line flags take precedence.
type FileConfig struct {
	InstallRoot    string `yaml:"install_root"`
	DataDir        string `yaml:"data_dir"`
	Interpreter    string `yaml:"interpreter"`
	ScriptDir      string `yaml:"script_dir"`
	RequestTimeout string `yaml:"request_timeout"`
	StepSize       int    `yaml:"step_size"`
	BatchSize      int    `yaml:"batch_size"`
	Mode           string `yaml:"mode"`
}

// LoadConfigFile reads a YAML config file, expands ${VAR} and ${VAR:-default}
// references, and unmarshals it.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &fc); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if fc.RequestTimeout != "" {
		if _, err := time.ParseDuration(fc.RequestTimeout); err != nil {
			return nil, fmt.Errorf("invalid request_timeout in %s: %w", path, err)
		}
	}
	return &fc, nil
}

// Apply overlays the non-empty fields of the file onto cfg.
func (fc *FileConfig) Apply(cfg Config) Config {
	if fc == nil {
		return cfg
	}
	if fc.InstallRoot != "" {
		cfg.InstallRoot = fc.InstallRoot
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Interpreter != "" {
		cfg.Interpreter = fc.Interpreter
	}
	if fc.ScriptDir != "" {
		cfg.ScriptDir = fc.ScriptDir
	}
	if d, err := time.ParseDuration(fc.RequestTimeout); err == nil {
		cfg.RequestTimeout = d
	}
	return cfg
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}
