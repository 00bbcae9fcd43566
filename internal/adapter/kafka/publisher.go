package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/citizenlink/heatmap-service/internal/config"
	"github.com/citizenlink/heatmap-service/internal/heatmap"
)

const (
	// maxFrameBytes bounds one serialized frame; a few thousand points with
	// raw markers stay well under it. The topic's max.message.bytes must
	// allow the compressed size.
	maxFrameBytes = 8 << 20

	// flushTimeout caps how long a lone frame waits in the writer's batch.
	flushTimeout = 10 * time.Millisecond
)

// ErrFrameTooLarge is returned for frames above maxFrameBytes.
var ErrFrameTooLarge = errors.New("render frame too large")

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// FramePublisher sends render frames to a Kafka topic for the map clients.
// It implements heatmap.Renderer.
type FramePublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewFramePublisher creates a Kafka producer for the configured render topic.
// Frames are keyed by view id so one view's frames stay ordered on a partition.
// Render is called once per UI event and blocks the caller, so every frame is
// flushed on its own instead of waiting to fill a batch.
func NewFramePublisher(cfg *config.Config, logger *slog.Logger) *FramePublisher {
	return &FramePublisher{writer: newWriter(cfg), logger: logger}
}

func newWriter(cfg *config.Config) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaRenderTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    1,
		BatchTimeout: flushTimeout,
		BatchBytes:   maxFrameBytes,
		Compression:  kafkago.Zstd,
	}
}

// Render serializes and publishes one frame.
func (p *FramePublisher) Render(ctx context.Context, f heatmap.Frame) error {
	msg, err := serializeFrame(f)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish frame %d: %w", f.Sequence, err)
	}
	p.logger.Debug("frame published",
		"frame_id", f.ID,
		"sequence", f.Sequence,
		"heat_points", len(f.Heat.Points),
		"markers", len(f.Markers),
	)
	return nil
}

func (p *FramePublisher) Close() error {
	return p.writer.Close()
}

// serializeFrame marshals a Frame into a Kafka message.
func serializeFrame(f heatmap.Frame) (kafkago.Message, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize frame: %w", err)
	}
	if len(data) > maxFrameBytes {
		return kafkago.Message{}, fmt.Errorf("frame %d is %d bytes: %w", f.Sequence, len(data), ErrFrameTooLarge)
	}
	return kafkago.Message{
		Key:   []byte(f.ViewID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "frame_id", Value: []byte(f.ID.String())},
			{Key: "sequence", Value: []byte(strconv.FormatUint(f.Sequence, 10))},
			{Key: "rendered_at", Value: []byte(f.RenderedAt.Format(time.RFC3339Nano))},
		},
	}, nil
}

// DecodeFrame parses a message produced by FramePublisher.
func DecodeFrame(msg kafkago.Message) (heatmap.Frame, error) {
	var f heatmap.Frame
	if err := json.Unmarshal(msg.Value, &f); err != nil {
		return heatmap.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
