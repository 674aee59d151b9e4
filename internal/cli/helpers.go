package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/harlier/metamove/internal/client"
	"github.com/harlier/metamove/internal/config"
)

// loadConfig applies the shared flag overrides on top of the layered config
// and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBundleDir != "" {
		cfg.BundleDir = flagBundleDir
	}
	if flagDBMap != "" {
		cfg.DBMapPath = flagDBMap
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}

// indent prefixes every non-empty line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func newClient(cfg *config.Config, inst config.Instance) *client.Client {
	return client.New(client.Config{
		BaseURL:      inst.URL,
		APIKey:       inst.APIKey,
		SessionToken: inst.SessionToken,
		MaxRetries:   cfg.MaxRetries,
		RateLimit:    cfg.RateLimit,
	})
}
