package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcilerConfig tunes the background sweep over payments still awaiting a final status.
type ReconcilerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
	MaxAge    time.Duration `mapstructure:"maxAge"`
	LockTTL   time.Duration `mapstructure:"lockTTL"`
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Enabled:   true,
		Interval:  5 * time.Minute,
		BatchSize: 50,
		MaxAge:    24 * time.Hour,
		LockTTL:   2 * time.Minute,
	}
}

type ReconcilerConfigHolder struct {
	current atomic.Value // holds ReconcilerConfig
}

// NewStaticReconcilerConfigHolder returns a holder that never reloads.
func NewStaticReconcilerConfigHolder(cfg ReconcilerConfig) *ReconcilerConfigHolder {
	holder := &ReconcilerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcilerConfigHolder(cfg Config, log *zap.Logger) (*ReconcilerConfigHolder, error) {
	log = log.Named("config.reconciler")
	v := viper.New()

	if cfg.ReconcilerConfigPath != "" {
		v.SetConfigFile(cfg.ReconcilerConfigPath)
	} else {
		v.SetConfigName("reconciler")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/invoicepay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("INVOICEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcilerConfig()
	v.SetDefault("reconciler.enabled", defaults.Enabled)
	v.SetDefault("reconciler.interval", defaults.Interval)
	v.SetDefault("reconciler.batchSize", defaults.BatchSize)
	v.SetDefault("reconciler.maxAge", defaults.MaxAge)
	v.SetDefault("reconciler.lockTTL", defaults.LockTTL)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	rc := defaults
	if err := v.UnmarshalKey("reconciler", &rc); err != nil {
		return nil, err
	}
	if err := validateReconcilerConfig(rc); err != nil {
		return nil, err
	}

	holder := NewStaticReconcilerConfigHolder(rc)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultReconcilerConfig()
		if err := v.UnmarshalKey("reconciler", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateReconcilerConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconcilerConfigHolder) Get() ReconcilerConfig {
	return h.current.Load().(ReconcilerConfig)
}

func validateReconcilerConfig(cfg ReconcilerConfig) error {
	if cfg.Interval < time.Second {
		return errors.New("reconciler.interval must be at least 1s")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("reconciler.batchSize must be positive")
	}
	if cfg.MaxAge <= 0 {
		return errors.New("reconciler.maxAge must be positive")
	}
	return nil
}
