// Package notify implements NotificationSink backends. The core treats
// notifications as fire-and-forget: a sink may drop, queue, or log them,
// but it never propagates delivery failures into the state machine.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/metrics"
	"github.com/classlane/lessond/internal/ports"
)

// LogSink writes every notification request to the structured log. It is
// the default wiring until a real delivery channel is attached.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

func (s *LogSink) Notify(_ context.Context, n ports.Notification) {
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()
	s.logger.Info().
		Str("event", "notify.request").
		Str("lesson_id", n.LessonID).
		Str("kind", string(n.Kind)).
		Str("recipient", n.Recipient).
		Msg("notification requested")
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, n ports.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of everything notified so far.
func (r *Recorder) Sent() []ports.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Notification(nil), r.sent...)
}
