// Package querylog provides a logging plugin that records each broker
// operation to standard output and, optionally, to a persistent query log.
// Register it with a blank import:
//
//	_ "github.com/amarack/librarian/internal/plugins/querylog"
package querylog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/requestlog"
	"github.com/amarack/librarian/plugin"
)

func init() {
	plugin.RegisterFactory("query-logger", func() plugin.Plugin {
		return &QueryLogger{}
	})
}

// QueryLogger emits structured log entries for every request and response
// flowing through the broker.
type QueryLogger struct {
	logLevel slog.Level
	writer   requestlog.Writer
}

// Name returns the plugin identifier.
func (l *QueryLogger) Name() string { return "query-logger" }

// Type returns the plugin category.
func (l *QueryLogger) Type() plugin.Kind { return plugin.KindLogging }

// Init reads config keys:
//   - level: debug/info/warn/error (default info)
//   - persist: write entries to a SQL query log (default false)
//   - backend: "sqlite" (default) or "postgres"
//   - dsn: database path / connection string
func (l *QueryLogger) Init(config map[string]interface{}) error {
	l.logLevel = slog.LevelInfo
	l.writer = requestlog.NoopWriter{}
	if level, ok := config["level"].(string); ok {
		switch level {
		case "debug":
			l.logLevel = slog.LevelDebug
		case "warn":
			l.logLevel = slog.LevelWarn
		case "error":
			l.logLevel = slog.LevelError
		}
	}

	persist, _ := config["persist"].(bool)
	if persist {
		backend, _ := config["backend"].(string)
		dsn, _ := config["dsn"].(string)
		switch strings.ToLower(strings.TrimSpace(backend)) {
		case "sqlite", "":
			writer, err := requestlog.NewSQLiteWriter(dsn)
			if err != nil {
				return err
			}
			l.writer = writer
		case "postgres", "postgresql":
			writer, err := requestlog.NewPostgresWriter(dsn)
			if err != nil {
				return err
			}
			l.writer = writer
		default:
			return fmt.Errorf("unsupported query log backend %q", backend)
		}
	}
	return nil
}

// Execute logs the request (before stage), the merged response (after
// stage), or the pipeline error (error stage).
func (l *QueryLogger) Execute(ctx context.Context, pctx *plugin.Context) error {
	log := logging.FromContext(ctx)
	query := ""
	if pctx.Search != nil {
		query = pctx.Search.Query
	}

	if pctx.Response == nil && pctx.Error == nil {
		now := time.Now().UTC()
		log.Log(ctx, l.logLevel, "broker request",
			"operation", pctx.Operation,
			"query", query,
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:   logging.TraceIDFromContext(ctx),
			Stage:     string(plugin.StageBeforeRequest),
			Operation: pctx.Operation,
			Query:     query,
			CreatedAt: now,
		})
	}

	if pctx.Response != nil {
		now := time.Now().UTC()
		fanOut, _ := pctx.Metadata["fan_out"].(int)
		log.Log(ctx, l.logLevel, "broker response",
			"operation", pctx.Operation,
			"results", len(pctx.Response.Results),
			"fan_out", fanOut,
			"error", pctx.Response.Error,
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:      logging.TraceIDFromContext(ctx),
			Stage:        string(plugin.StageAfterRequest),
			Operation:    pctx.Operation,
			Query:        query,
			FanOut:       fanOut,
			Results:      len(pctx.Response.Results),
			ErrorMessage: pctx.Response.Error,
			CreatedAt:    now,
		})
	}

	if pctx.Error != nil {
		now := time.Now().UTC()
		log.Log(ctx, slog.LevelError, "broker error",
			"operation", pctx.Operation,
			"error", pctx.Error.Error(),
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:      logging.TraceIDFromContext(ctx),
			Stage:        string(plugin.StageOnError),
			Operation:    pctx.Operation,
			Query:        query,
			ErrorMessage: pctx.Error.Error(),
			CreatedAt:    now,
		})
	}

	return nil
}
