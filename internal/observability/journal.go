package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alphadevx/alpha-sub000/pkg/record"
)

// Journal logs every store operation. Successful ones are written at debug
// level, failures at warn.
type Journal struct {
	log zerolog.Logger
}

func NewJournal(log zerolog.Logger) *Journal {
	return &Journal{log: log.With().Str("component", "record_journal").Logger()}
}

func (j *Journal) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	ev := j.log.Debug()
	if !success {
		ev = j.log.Warn()
	}
	ev.Str("operation", operation).
		Str("status", status(success)).
		Float64("duration_ms", float64(d)/float64(time.Millisecond)).
		Msg("record operation")
}

// Fanout forwards each observation to every observer in order.
type Fanout []record.Observer

func (f Fanout) Observe(ctx context.Context, operation string, success bool, d time.Duration) {
	for _, o := range f {
		if o != nil {
			o.Observe(ctx, operation, success, d)
		}
	}
}

var (
	_ record.Observer = (*ExpvarRecorder)(nil)
	_ record.Observer = (*PrometheusObserver)(nil)
	_ record.Observer = (*Journal)(nil)
	_ record.Observer = Fanout(nil)
)
