package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologObserver emits events to a zerolog.Logger. The event type becomes
// the message and Data keys are written as top-level fields.
type ZerologObserver struct {
	logger zerolog.Logger
}

// NewZerologObserver creates a ZerologObserver that emits to the given logger.
func NewZerologObserver(logger zerolog.Logger) *ZerologObserver {
	return &ZerologObserver{logger: logger}
}

func (o *ZerologObserver) OnEvent(ctx context.Context, event Event) {
	entry := o.logger.WithLevel(event.Level.ZerologLevel())
	if !event.Timestamp.IsZero() {
		entry = entry.Time("event_time", event.Timestamp)
	}
	entry.Str("source", event.Source).
		Fields(event.Data).
		Msg(string(event.Type))
}

// ZerologLevel maps this level to the corresponding zerolog.Level.
func (l Level) ZerologLevel() zerolog.Level {
	switch {
	case l <= 4:
		return zerolog.TraceLevel
	case l <= 8:
		return zerolog.DebugLevel
	case l <= 12:
		return zerolog.InfoLevel
	case l <= 16:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
