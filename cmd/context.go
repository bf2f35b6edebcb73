package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"shrink/internal/backup"
	"shrink/internal/logging"
	"shrink/internal/optimizer"
	"shrink/internal/settings"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	settingsOnce sync.Once
	settings     settings.Settings
	configPath   string
	configExists bool
	settingsErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureSettings() (settings.Settings, error) {
	c.settingsOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		s, resolved, exists, err := settings.Load(path)
		if err != nil {
			c.settingsErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			if _, err := logging.ParseLevel(*c.logLevelFlag); err != nil {
				c.settingsErr = err
				return
			}
			s.Logging.Level = *c.logLevelFlag
		}
		c.settings = s
		c.configPath = resolved
		c.configExists = exists
	})
	return c.settings, c.settingsErr
}

// runtime bundles the collaborators a command needs.
type runtime struct {
	settings settings.Settings
	logger   *slog.Logger
	store    *backup.Store
	engine   *optimizer.Engine

	logCloser io.Closer
}

func (c *commandContext) openRuntime() (*runtime, error) {
	s, err := c.ensureSettings()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  s.Logging.Level,
		Format: s.Logging.Format,
		File:   s.Logging.File,
	})
	if err != nil {
		return nil, err
	}
	store, err := backup.Open(s.BackupDir)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("open backups: %w", err)
	}
	engine := optimizer.New(store, optimizer.Options{
		StripMetadata: s.Optimize.StripMetadata,
		PreserveICC:   s.Optimize.PreserveICC,
		MaxPasses:     s.Optimize.MaxPasses,
		MaxDiff:       s.Optimize.MaxDiff,
	}, logger.With(slog.String("component", "optimizer")))

	return &runtime{
		settings:  s,
		logger:    logger,
		store:     store,
		engine:    engine,
		logCloser: closer,
	}, nil
}

// pruneBackups removes backups older than retention.
func (r *runtime) pruneBackups(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := r.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return removed, fmt.Errorf("prune backups: %w", err)
	}
	r.logger.Info("backups pruned", slog.Int("removed", removed), slog.Duration("retention", retention))
	return removed, nil
}

func (r *runtime) Close() error {
	storeErr := r.store.Close()
	logErr := r.logCloser.Close()
	if storeErr != nil {
		return storeErr
	}
	return logErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
