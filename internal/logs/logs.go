package logs

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/lmittmann/tint"
)

const logFile = "privmap.log"

// SDKLogger adapts slog to the smithy logging interface so AWS SDK wire
// logs land in the debug log file instead of the console. Credential
// material never appears in these records.
func SDKLogger() logging.Logger {
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		defer f.Close()

		logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		msg := fmt.Sprintf(format, v...)
		switch classification {
		case logging.Warn:
			logger.Warn(msg)
		default:
			logger.Debug(msg)
		}
	})
}

// Configure installs the tinted console handler as the default slog
// logger at the given level.
func Configure(level slog.Level) *slog.Logger {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}
