// Package logging builds the component loggers of the bk command.
//
// Every component takes a *log.Logger; Logs hands out loggers sharing one
// destination, stderr plus an optional size-rotated log file.
package logging

import (
	"errors"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Config describes where logs go.
type Config struct {
	// File, when set, receives a copy of every line. It is rotated once it
	// reaches MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops the stderr copy. It has no effect without File.
	Quiet bool
}

// Logs is a shared log destination.
type Logs struct {
	out  io.Writer
	file *lumberjack.Logger
}

// Open prepares the destination described by cfg. stderr is normally
// os.Stderr; nil means os.Stderr.
func Open(cfg Config, stderr io.Writer) (*Logs, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	if strings.TrimSpace(cfg.File) == "" {
		return &Logs{out: stderr}, nil
	}
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return nil, errors.New("log rotation settings must not be negative")
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
	l := &Logs{out: io.MultiWriter(stderr, file), file: file}
	if cfg.Quiet {
		l.out = file
	}
	return l, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// New returns a logger whose lines start with "[component] ".
func (l *Logs) New(component string) *log.Logger {
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	return log.New(l.out, prefix, log.LstdFlags)
}

// Writer returns the destination itself.
func (l *Logs) Writer() io.Writer { return l.out }

// File returns the log file path, or "" when logging to stderr only.
func (l *Logs) File() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Rotate starts a new log file. It is a no-op without a file.
func (l *Logs) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file.
func (l *Logs) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
