package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/steveyegge/campaign/internal/archive"
	"github.com/steveyegge/campaign/internal/logging"
)

// settings are the bk options that are not part of a campaign file.
type settings struct {
	ResultsDir string `mapstructure:"results_dir"`
	Continue   bool   `mapstructure:"continue"`
	Parallel   bool   `mapstructure:"parallel"`
	Color      string `mapstructure:"color"`

	Log     logSettings     `mapstructure:"log"`
	Monitor monitorSettings `mapstructure:"monitor"`
	Archive archive.Config  `mapstructure:"archive"`
}

type logSettings struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Quiet      bool   `mapstructure:"quiet"`
}

func (l logSettings) config() logging.Config {
	return logging.Config{
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
		Quiet:      l.Quiet,
	}
}

type monitorSettings struct {
	// Port of the live monitor. Zero disables it.
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	// Origins are the browser origins allowed besides the monitor's own.
	Origins []string `mapstructure:"origins"`
}

// flagKeys maps flag names to setting keys.
var flagKeys = map[string]string{
	"results-dir":  "results_dir",
	"continue":     "continue",
	"parallel":     "parallel",
	"color":        "color",
	"log-file":     "log.file",
	"monitor-port": "monitor.port",
	"monitor-host": "monitor.host",
}

var defaults = map[string]any{
	"results_dir":      "",
	"continue":         false,
	"parallel":         false,
	"color":            "auto",
	"log.file":         "",
	"log.max_size_mb":  logging.DefaultMaxSizeMB,
	"log.max_backups":  logging.DefaultMaxBackups,
	"log.max_age_days": logging.DefaultMaxAgeDays,
	"log.compress":     false,
	"log.quiet":        false,
	"monitor.port":     0,
	"monitor.host":     "localhost",
	"monitor.origins":  []string{},

	"archive.endpoint":   "",
	"archive.access_key": "",
	"archive.secret_key": "",
	"archive.region":     "",
	"archive.bucket":     "",
	"archive.prefix":     "",
	"archive.use_ssl":    false,
}

// loadSettings merges defaults, the settings file, BK_* variables and the
// flags that were set. file names an explicit settings file; otherwise
// bk.yaml is looked up in the working directory and the user config
// directory, and may be absent.
func loadSettings(flags *pflag.FlagSet, file string) (*settings, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("bk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "bk"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	v.SetEnvPrefix("BK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	switch s.Color {
	case "auto", "always", "never":
	default:
		return nil, fmt.Errorf("invalid color setting %q (want auto, always or never)", s.Color)
	}
	if s.Monitor.Port < 0 || s.Monitor.Port > 65535 {
		return nil, fmt.Errorf("invalid monitor port %d", s.Monitor.Port)
	}
	return &s, nil
}

// colorOutput reports whether output to f should be styled.
func (s *settings) colorOutput(f *os.File) bool {
	switch s.Color {
	case "always":
		return true
	case "never":
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// termWidth returns the width of the terminal behind f, or 0.
func termWidth(f *os.File) int {
	if !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}
