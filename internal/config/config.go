package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultCC           = "cc"
	DefaultAR           = "ar"
	DefaultMake         = "make"
	DefaultShell        = "sh"
	DefaultSrcDir       = "."
	DefaultFactsPackage = "gmp"
	DefaultMPFR         = true
	DefaultMPC          = true
	DefaultVerbose      = false
)

// RequiredKeys must be supplied by the invoking build system
var RequiredKeys = []string{"out_dir", "host", "target", "toolchain", "jobs", "profile", "version"}

// Holds the configuration options for gmpbuild
type Config struct {
	// Output root; lib/, include/ and build/ are created below it
	OutDir string

	// Host and target triples; they must be equal
	Host   string
	Target string

	// Host compiler driver used for cgo probe links (usually "go")
	Toolchain string

	// Native tools
	CC    string
	AR    string
	Make  string
	Shell string

	// Parallel jobs passed to make
	Jobs int

	// Build profile of the invoking build ("release" enables make check by default)
	Profile string

	// Package version, e.g. 1.1.14
	Version string

	// Cache root override. CacheDirSet distinguishes an explicit empty
	// override (caching disabled) from no override at all.
	CacheDir    string
	CacheDirSet bool
	NoCache     bool

	// Optional libraries; MPC implies MPFR
	MPFR bool
	MPC  bool

	// make check opt-in and opt-out
	CTest   bool
	CNoTest bool

	// Keep the scratch build directory for debugging
	KeepBuild bool

	// Directory holding the vendored gmp/mpfr/mpc sources
	SrcDir string

	// Package name of the generated Go files
	FactsPackage string

	// Enable verbose output
	Verbose bool
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	cfg := read()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func read() *Config {
	cfg := &Config{
		OutDir:       viper.GetString("out_dir"),
		Host:         viper.GetString("host"),
		Target:       viper.GetString("target"),
		Toolchain:    viper.GetString("toolchain"),
		CC:           viper.GetString("cc"),
		AR:           viper.GetString("ar"),
		Make:         viper.GetString("make"),
		Shell:        viper.GetString("sh"),
		Jobs:         viper.GetInt("jobs"),
		Profile:      viper.GetString("profile"),
		Version:      viper.GetString("version"),
		CacheDir:     viper.GetString("cache_dir"),
		CacheDirSet:  viper.IsSet("cache_dir"),
		NoCache:      viper.GetBool("no_cache"),
		MPFR:         viper.GetBool("mpfr"),
		MPC:          viper.GetBool("mpc"),
		CTest:        viper.GetBool("ctest"),
		CNoTest:      viper.GetBool("cnotest"),
		KeepBuild:    viper.GetBool("keep_build"),
		SrcDir:       viper.GetString("src_dir"),
		FactsPackage: viper.GetString("facts_package"),
		Verbose:      viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.CC == "" {
		cfg.CC = DefaultCC
	}

	if cfg.AR == "" {
		cfg.AR = DefaultAR
	}

	if cfg.Make == "" {
		cfg.Make = DefaultMake
	}

	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}

	if cfg.SrcDir == "" {
		cfg.SrcDir = DefaultSrcDir
	}

	if cfg.FactsPackage == "" {
		cfg.FactsPackage = DefaultFactsPackage
	}

	return cfg
}

func (c *Config) Validate() error {
	var missing []string
	for _, key := range RequiredKeys {
		if c.isMissing(key) {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Jobs < 1 {
		return fmt.Errorf("invalid job count: %d", c.Jobs)
	}

	abs, err := filepath.Abs(c.OutDir)
	if err != nil {
		return fmt.Errorf("invalid output directory: %v", err)
	}

	c.OutDir = abs

	abs, err = filepath.Abs(c.SrcDir)
	if err != nil {
		return fmt.Errorf("invalid source directory: %v", err)
	}

	c.SrcDir = abs

	if c.CacheDir != "" {
		abs, err := filepath.Abs(c.CacheDir)
		if err != nil {
			return fmt.Errorf("invalid cache directory: %v", err)
		}

		c.CacheDir = abs
	}

	// MPC is built on MPFR
	if c.MPC {
		c.MPFR = true
	}

	return nil
}

func (c *Config) isMissing(key string) bool {
	switch key {
	case "out_dir":
		return c.OutDir == ""
	case "host":
		return c.Host == ""
	case "target":
		return c.Target == ""
	case "toolchain":
		return c.Toolchain == ""
	case "jobs":
		return c.Jobs == 0
	case "profile":
		return c.Profile == ""
	case "version":
		return c.Version == ""
	}

	return false
}
