// internal/action/logwriter.go
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogWriter appends log actions as JSON lines to w and mirrors them to the
// daemon logger.
type LogWriter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
	now    func() time.Time
}

type logRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	RuleID  string         `json:"rule_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func NewLogWriter(w io.Writer, logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{w: w, logger: logger, now: time.Now}
}

func (l *LogWriter) Append(ctx context.Context, a Log) error {
	rec := logRecord{
		Time:    l.now().UTC(),
		Level:   strings.ToLower(a.Level),
		Message: a.Message,
		RuleID:  a.RuleID,
	}
	if len(a.Fields) > 0 {
		rec.Fields = make(map[string]any, len(a.Fields))
		for k, v := range a.Fields {
			rec.Fields[k] = v.Interface()
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, err = l.w.Write(line)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing log entry: %w", err)
	}

	l.logger.Log(ctx, parseLevel(rec.Level), rec.Message, "rule_id", rec.RuleID)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
