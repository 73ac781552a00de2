package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Stage names emitted by an analysis run, in execution order.
const (
	StageParse       = "parse"
	StageFeatures    = "features"
	StageScore       = "score"
	StageHealth      = "health"
	StageRetrieve    = "retrieve"
	StageCompose     = "compose"
	StageComplete    = "complete"
	StageStandardize = "standardize"
	StageFinished    = "finished"
)

// Progress is one discrete stage update. Sinks are written to, never read by, the pipeline.
type Progress struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressSink receives fire-and-forget stage updates.
type ProgressSink interface {
	Progress(ctx context.Context, p Progress)
}

// NoopSink discards every update.
type NoopSink struct{}

func (NoopSink) Progress(context.Context, Progress) {}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, p Progress)

func (f SinkFunc) Progress(ctx context.Context, p Progress) { f(ctx, p) }

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes progress updates as JSON on a NATS subject.
type NATSSink struct {
	conn    Publisher
	subject string
	logger  *slog.Logger
	closer  func()
}

// NewNATSSink connects to url. The connection retries in the background so a
// missing broker never blocks startup.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("ds-analyzer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	sink := NewNATSSinkWithPublisher(nc, subject, logger)
	sink.closer = nc.Close
	return sink, nil
}

// NewNATSSinkWithPublisher wraps an existing publisher.
func NewNATSSinkWithPublisher(pub Publisher, subject string, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{conn: pub, subject: subject, logger: logger}
}

// Progress publishes p; failures are logged and dropped.
func (s *NATSSink) Progress(_ context.Context, p Progress) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("encode progress event", slog.String("error", err.Error()))
		return
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		s.logger.Warn("publish progress event",
			slog.String("subject", s.subject),
			slog.String("stage", p.Stage),
			slog.String("error", err.Error()),
		)
	}
}

// Close releases the underlying connection when the sink owns it.
func (s *NATSSink) Close() {
	if s.closer != nil {
		s.closer()
	}
}
