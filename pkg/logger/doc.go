// Package logger builds *slog.Logger values with functional options and
// provides attribute helpers so every package names its log fields the same way.
//
// New picks slog.NewJSONHandler or slog.NewTextHandler from the configured
// Format and wraps it with a handler that adds context-scoped attributes at
// log time: those stored with ContextWithAttrs and those returned by any
// registered ContextExtractor.
//
// Helpers such as SessionID, LockToken, Operation and Error live in attr.go.
// Nop returns a logger that discards output; it is the default for types that
// take an optional *slog.Logger.
//
// # Usage
//
//	log := logger.New(logger.WithEnvironment(os.Getenv("APP_ENV"), "sessionctl"))
//
//	ctx = logger.ContextWithAttrs(ctx, logger.Backend("redis"))
//	log.InfoContext(ctx, "session locked",
//		logger.SessionID(id),
//		logger.LockToken(token),
//	)
//
// # Options
//
//   - WithDevelopment, WithStaging, WithProduction, WithEnvironment: presets per environment.
//   - WithFormat, WithLevel, WithOutput: override individual settings.
//   - WithAttr: static attributes.
//   - WithContextExtractors: attributes pulled from context values.
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("operation finished", logger.Error(err))
//
// needs no nil check.
package logger
