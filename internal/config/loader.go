package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the loader
const EnvPrefix = "GMPBUILD"

// LegacyCacheEnv is accepted as an alias for GMPBUILD_CACHE_DIR
const LegacyCacheEnv = "GMP_MPFR_SYS_CACHE"

// flagKeys maps cobra flag names to viper keys
var flagKeys = map[string]string{
	"out-dir":       "out_dir",
	"host":          "host",
	"target":        "target",
	"toolchain":     "toolchain",
	"cc":            "cc",
	"ar":            "ar",
	"make":          "make",
	"sh":            "sh",
	"jobs":          "jobs",
	"profile":       "profile",
	"pkg-version":   "version",
	"cache-dir":     "cache_dir",
	"no-cache":      "no_cache",
	"mpfr":          "mpfr",
	"mpc":           "mpc",
	"ctest":         "ctest",
	"cnotest":       "cnotest",
	"keep-build":    "keep_build",
	"src-dir":       "src_dir",
	"facts-package": "facts_package",
	"verbose":       "verbose",
}

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration specifically for build operations.
// Precedence, lowest first: defaults, global config, local config,
// environment, flags.
func (l *Loader) LoadForBuild(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindEnv()
	l.bindCommandFlags(cmd)

	return Load()
}

// LoadForCache loads the same sources as LoadForBuild without requiring
// the build settings. Only the cache settings of the result are meaningful.
func (l *Loader) LoadForCache(cmd *cobra.Command) *Config {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindEnv()
	l.bindCommandFlags(cmd)

	return read()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("cc", DefaultCC)
	viper.SetDefault("ar", DefaultAR)
	viper.SetDefault("make", DefaultMake)
	viper.SetDefault("sh", DefaultShell)
	viper.SetDefault("src_dir", DefaultSrcDir)
	viper.SetDefault("facts_package", DefaultFactsPackage)
	viper.SetDefault("mpfr", DefaultMPFR)
	viper.SetDefault("mpc", DefaultMPC)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return
	}

	if path := FindGlobalConfig(filepath.Join(dir, "gmpbuild")); path != "" {
		viper.SetConfigFile(path)
		_ = viper.ReadInConfig()
	}
}

// loadLocalConfig merges a .gmpbuild config found above the working directory
func (l *Loader) loadLocalConfig() {
	cwd, err := os.Getwd()
	if err != nil {
		return // silently ignore, config.Load() will handle validation
	}

	if localPath := FindLocalConfig(cwd); localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.MergeInConfig()
	}
}

// bindEnv binds GMPBUILD_* environment variables
func (l *Loader) bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AllowEmptyEnv(true)
	viper.AutomaticEnv()

	for _, key := range RequiredKeys {
		_ = viper.BindEnv(key)
	}

	_ = viper.BindEnv("cache_dir", EnvPrefix+"_CACHE_DIR", LegacyCacheEnv)
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
