package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"jobrunner/internal/parser"
)

// EnvPrefix is the prefix of every environment variable read by the runner,
// e.g. JOBRUNNER_BACKEND_URL.
const EnvPrefix = "JOBRUNNER"

// DefaultConfigPath is where the generated boot artifact writes the settings file.
const DefaultConfigPath = "/etc/jobrunner/runner.yaml"

const (
	DefaultNetworkWait         = 10 * time.Second
	DefaultConnectivityTimeout = 15 * time.Second
	DefaultRequestTimeout      = 30 * time.Second
	DefaultLogTimeout          = 10 * time.Second
	DefaultMaxStartupLines     = 50
	DefaultScriptsDir          = "/opt/scripts"
	DefaultScriptSuffix        = ".sh"
	DefaultRuntime             = "docker"
)

// Settings are the runner's own parameters, baked into the boot artifact.
type Settings struct {
	BackendURL string `mapstructure:"backend_url" validate:"required,url"`
	JobID      string `mapstructure:"job_id" validate:"required"`

	NetworkWait         time.Duration `mapstructure:"network_wait" validate:"gte=0"`
	ConnectivityTimeout time.Duration `mapstructure:"connectivity_timeout" validate:"gt=0"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	LogTimeout          time.Duration `mapstructure:"log_timeout" validate:"gt=0"`

	MaxStartupLines int    `mapstructure:"max_startup_lines" validate:"min=1"`
	ScriptsDir      string `mapstructure:"scripts_dir" validate:"required"`
	ScriptSuffix    string `mapstructure:"script_suffix"`

	// StateFile, when set, receives a JSON record of the current phase.
	StateFile string `mapstructure:"state_file"`
	Runtime   string `mapstructure:"runtime" validate:"required,oneof=docker"`
}

// flagKeys maps command line flags onto settings keys.
var flagKeys = map[string]string{
	"backend-url":       "backend_url",
	"job-id":            "job_id",
	"network-wait":      "network_wait",
	"max-startup-lines": "max_startup_lines",
	"scripts-dir":       "scripts_dir",
	"state-file":        "state_file",
}

// RegisterFlags adds the settings flags to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("backend-url", "", "Base URL of the backend job service")
	flags.String("job-id", "", "Job name or numeric id")
	flags.Duration("network-wait", DefaultNetworkWait, "Fixed delay before the first network call")
	flags.Int("max-startup-lines", DefaultMaxStartupLines, "Startup output lines streamed before the privacy boundary")
	flags.String("scripts-dir", DefaultScriptsDir, "Directory holding bootstrap scripts")
	flags.String("state-file", "", "Optional path of the local JSON state file")
}

// Load resolves settings from defaults, an optional YAML file, JOBRUNNER_*
// environment variables and explicitly set flags, in increasing priority.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("settings file not found: %s", configFile)
		}

		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	if flags != nil {
		for flagName, key := range flagKeys {
			if flag := flags.Lookup(flagName); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	settings.BackendURL = strings.TrimRight(strings.TrimSpace(settings.BackendURL), "/")
	settings.JobID = strings.TrimSpace(settings.JobID)

	if err := parser.Validate(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend_url", "")
	v.SetDefault("job_id", "")
	v.SetDefault("network_wait", DefaultNetworkWait)
	v.SetDefault("connectivity_timeout", DefaultConnectivityTimeout)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("log_timeout", DefaultLogTimeout)
	v.SetDefault("max_startup_lines", DefaultMaxStartupLines)
	v.SetDefault("scripts_dir", DefaultScriptsDir)
	v.SetDefault("script_suffix", DefaultScriptSuffix)
	v.SetDefault("state_file", "")
	v.SetDefault("runtime", DefaultRuntime)
}

// ScriptPath returns the conventional location of a bootstrap script.
func (s *Settings) ScriptPath(name string) string {
	return filepath.Join(s.ScriptsDir, name+s.ScriptSuffix)
}
