// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/poet-network/poet/service"
)

const (
	defaultConfigFilename = "poet.conf"
	defaultDataDirname    = "data"
	defaultConfigDirname  = "etc"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "poet.log"
	defaultBackend        = "simulated"
)

var (
	defaultPoetDir    = poetDir()
	defaultConfigFile = filepath.Join(defaultPoetDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultPoetDir, defaultDataDirname)
	defaultConfigDir  = filepath.Join(defaultPoetDir, defaultConfigDirname)
	defaultLogDir     = filepath.Join(defaultPoetDir, defaultLogDirname)
)

// Config defines the configuration options for poet.
//
// See loadConfig for further details regarding the
// configuration loading+parsing process.
type Config struct {
	PoetDir    string `long:"poetdir" description:"The base directory that contains poet's data, logs, configuration file, etc."`
	ConfigFile string `short:"c" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store poet's data within"`
	ConfigDir  string `long:"configdir" description:"The directory holding backend configuration files"`
	LogDir     string `long:"logdir" description:"Directory to log output."`
	DebugLog   bool   `long:"debuglog" description:"Enable debug logs"`
	JSONLog    bool   `long:"jsonlog" description:"Whether to log in JSON format"`

	Backend    string `long:"backend" choice:"simulated" choice:"attested" description:"Trust boundary backend to run"`
	Commitment string `long:"commitment" description:"Originator commitment (hex digest of the validator's network identity) to sign up with"`
	Cycle      bool   `long:"cycle" description:"Continuously create wait timers and certificates after signup"`

	RawMetricsListener string `long:"metricslisten" description:"The interface/port to expose prometheus metrics on (empty to disable)"`
	MetricsListener    net.Addr

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile" description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Service *service.Config `group:"Service"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	serviceCfg := service.DefaultConfig()
	return &Config{
		PoetDir:    defaultPoetDir,
		ConfigFile: defaultConfigFile,
		DataDir:    defaultDataDir,
		ConfigDir:  defaultConfigDir,
		LogDir:     defaultLogDir,
		Backend:    defaultBackend,
		Service:    &serviceCfg,
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads values from a conf file.
func ReadConfigFile(preCfg *Config) (*Config, error) {
	preCfg.PoetDir = cleanAndExpandPath(preCfg.PoetDir)
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.PoetDir != defaultPoetDir {
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(
				preCfg.PoetDir, defaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(preCfg.ConfigFile, cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the Config
		// file doesn't exist which is OK.
		var iniError *flags.IniError
		if errors.As(err, &iniError) {
			return nil, err
		}

		configFileError = err
	}

	// Warn about missing Config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		fmt.Fprintf(os.Stderr, "%v\n", configFileError)
	}

	return cfg, nil
}

// SetupConfig initializes filesystem and network infrastructure.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided poet directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	if cfg.PoetDir != defaultPoetDir {
		cfg.DataDir = filepath.Join(cfg.PoetDir, defaultDataDirname)
		cfg.ConfigDir = filepath.Join(cfg.PoetDir, defaultConfigDirname)
		cfg.LogDir = filepath.Join(cfg.PoetDir, defaultLogDirname)
	}

	// Create the poet directory if it doesn't already exist.
	if err := os.MkdirAll(cfg.PoetDir, 0o700); err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		var pathError *fs.PathError
		if errors.As(err, &pathError) && os.IsExist(err) {
			if link, lerr := os.Readlink(pathError.Path); lerr == nil {
				err = fmt.Errorf("is symlink %s -> %s mounted?", pathError.Path, link)
			}
		}
		return nil, fmt.Errorf("failed to create poet directory: %w", err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.ConfigDir = cleanAndExpandPath(cfg.ConfigDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if cfg.RawMetricsListener != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.RawMetricsListener)
		if err != nil {
			return nil, err
		}
		cfg.MetricsListener = addr
	}

	return cfg, nil
}

// LogFile returns the log file path under the configured log dir.
func LogFile(cfg *Config) string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

func poetDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poet"
	}
	return filepath.Join(home, ".poet")
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
