// Package logging backs the auth Logger interface with zap.
package logging

import (
	"go.uber.org/zap"

	auth "github.com/goliatone/go-session-auth"
)

// Config selects the zap preset
type Config struct {
	Development bool
	Level       string
}

// Logger adapts a zap SugaredLogger to auth.Logger
type Logger struct {
	s *zap.SugaredLogger
}

var (
	_ auth.Logger         = (*Logger)(nil)
	_ auth.LoggerProvider = (*Provider)(nil)
)

// New builds a zap logger from cfg
func New(cfg Config) (*Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return Wrap(l.Sugar()), nil
}

// Wrap adapts an existing sugared logger
func Wrap(s *zap.SugaredLogger) *Logger {
	if s == nil {
		s = zap.NewNop().Sugar()
	}
	return &Logger{s: s}
}

func (l *Logger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// Named returns a child logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{s: l.s.Named(name)}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.s.Sync()
}

// Provider hands out named children of a root logger
type Provider struct {
	root *Logger
}

// NewProvider returns a provider rooted at root
func NewProvider(root *Logger) *Provider {
	return &Provider{root: root}
}

// GetLogger implements auth.LoggerProvider
func (p *Provider) GetLogger(name string) auth.Logger {
	return p.root.Named(name)
}
