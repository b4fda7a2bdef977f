package mtlog

import "go.uber.org/zap"

// ZapHandler adapts a *zap.Logger as a LogHandler, for deployments that
// want structured/JSON logs shipped to a log aggregator instead of the
// console handler's colorized text. Grounded on the zap usage in the
// agentries-amp-relay-go example's relay service.
type ZapHandler struct {
	L *zap.Logger
}

func NewZapHandler(l *zap.Logger) *ZapHandler { return &ZapHandler{L: l} }

func (h *ZapHandler) Handle(level Level, err error, msg string) {
	fields := make([]zap.Field, 0, 1)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch level {
	case LevelDebug:
		h.L.Debug(msg, fields...)
	case LevelInfo:
		h.L.Info(msg, fields...)
	case LevelWarn:
		h.L.Warn(msg, fields...)
	case LevelError:
		h.L.Error(msg, fields...)
	}
}
