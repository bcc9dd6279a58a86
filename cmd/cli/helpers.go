package cli

// cmd/cli/helpers.go — flag/env resolution shared by the command files.
// Flags win over environment variables, which win over defaults; .env files
// are loaded once by the per-command middleware before resolution.

import (
	"strconv"

	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/storj-archived/core-sub000/pkg/utils"
)

// newLogger builds the CLI logger honouring LOG_LEVEL.
func newLogger() *logrus.Logger {
	lg := logrus.New()
	if lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", "info")); err == nil {
		lg.SetLevel(lvl)
	}
	return lg
}

// resolveStringFlag fills dst from the flag when set, otherwise from env.
func resolveStringFlag(cmd *cobra.Command, name string, dst *string, envValue string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
		return
	}
	if envValue != "" {
		*dst = envValue
		return
	}
	*dst, _ = cmd.Flags().GetString(name)
}

// resolveIntFlag fills dst from the flag when set, otherwise from env.
func resolveIntFlag(cmd *cobra.Command, name string, dst *int, envValue int) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetInt(name)
		return
	}
	if envValue != 0 {
		*dst = envValue
		return
	}
	*dst, _ = cmd.Flags().GetInt(name)
}

// envInt parses an environment variable as int with a fallback.
func envInt(key string, fallback int) int {
	if v := utils.EnvOrDefault(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
