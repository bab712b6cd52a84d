package main

import (
	"context"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/sirupsen/logrus"
)

// logrusLogger satisfies glog.Logger and glog.FieldsLogger. Trailing
// key/value args become logrus fields.
type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrus(level string, format string) *logrus.Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
	return base
}

func newLogger(base *logrus.Logger, name string) *logrusLogger {
	return &logrusLogger{entry: base.WithField("logger", name)}
}

func (l *logrusLogger) Trace(msg string, args ...any) { l.with(args).Trace(msg) }
func (l *logrusLogger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }
func (l *logrusLogger) Info(msg string, args ...any)  { l.with(args).Info(msg) }
func (l *logrusLogger) Warn(msg string, args ...any)  { l.with(args).Warn(msg) }
func (l *logrusLogger) Error(msg string, args ...any) { l.with(args).Error(msg) }
func (l *logrusLogger) Fatal(msg string, args ...any) { l.with(args).Fatal(msg) }

func (l *logrusLogger) WithContext(ctx context.Context) glog.Logger {
	return &logrusLogger{entry: l.entry.WithContext(ctx)}
}

func (l *logrusLogger) WithFields(fields map[string]any) glog.Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}
	fields := logrus.Fields{}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		if i+1 < len(args) {
			value := args[i+1]
			if err, isErr := value.(error); isErr {
				value = err.Error()
			}
			fields[key] = value
		} else {
			fields["extra"] = args[i]
		}
	}
	return l.entry.WithFields(fields)
}

type logrusProvider struct {
	base *logrus.Logger
}

func (p logrusProvider) GetLogger(name string) glog.Logger {
	return newLogger(p.base, name)
}

var (
	_ glog.Logger         = (*logrusLogger)(nil)
	_ glog.FieldsLogger   = (*logrusLogger)(nil)
	_ glog.LoggerProvider = logrusProvider{}
)
