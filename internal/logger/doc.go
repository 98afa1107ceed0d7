// Package logger provides a small leveled logging facade over zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional scope (for example
// "worker-3" or "pool"), and a printf-style message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("worker-1", "Executing job")
//	logger.Error("pool", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("worker-1", "Debug message")
//
// The underlying *zap.Logger is available through Zap for libraries that
// take one directly (HTTP middleware, for example).
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// SetLevel changes the level atomically; it is safe to call while other
// goroutines are logging.
package logger
