// Package logger builds slog loggers for the service.
//
// Loggers are configured with functional options and wrap the standard JSON or
// text handler in a ContextHandler that copies request-scoped values (request
// id, authenticated user) from the context into every record:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "uplas"),
//		logger.WithLevelName(cfg.Level),
//		logger.WithContextExtractors(requestid.LogExtractor()),
//	)
//	log.InfoContext(ctx, "subscription updated", logger.UserID(userID))
//
// The attribute helpers keep key names consistent across packages.
package logger
