package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var logLevel string

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "zssp",
		Short:         "Secure session protocol node and tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")

	root.AddCommand(keygenCmd(), runCmd(), loopbackCmd())
	return root.Execute()
}

// loggerFactory returns a pion logger factory at level. An empty level
// keeps the PION_LOG_* environment defaults.
func loggerFactory(level string) (logging.LoggerFactory, error) {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	if level == "" {
		return f, nil
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	f.DefaultLogLevel = lvl
	return f, nil
}

func parseLevel(level string) (logging.LogLevel, error) {
	switch strings.ToLower(level) {
	case "trace":
		return logging.LogLevelTrace, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "disabled":
		return logging.LogLevelDisabled, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
