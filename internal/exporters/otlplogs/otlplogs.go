// Package otlplogs exports Events as OTLP LogRecords to a collector over
// gRPC in one batched request, the client-side counterpart of the
// teacher's otlpgrpc receiver (which implements the server side of the
// same ExportLogsServiceRequest contract). jitterlens-report passes one
// SESSION_WINDOW event per effective session window; the events in the
// report phase's event store are not exported.
package otlplogs

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	colllog "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/streamlens/jitterlens/internal/model"
)

// Sink dials a collector and exports Events as LogRecords.
type Sink struct {
	addr string
}

// New builds a Sink. An empty addr disables the sink.
func New(addr string) *Sink {
	return &Sink{addr: addr}
}

// Enabled reports whether a target address was configured.
func (s *Sink) Enabled() bool { return s.addr != "" }

// Export dials addr, builds one batched ExportLogsServiceRequest from
// events, and calls Export. The connection is closed before returning.
func (s *Sink) Export(ctx context.Context, captureID string, events []model.Event) error {
	if !s.Enabled() {
		return nil
	}
	conn, err := grpc.NewClient(s.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("otlplogs: dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	client := colllog.NewLogsServiceClient(conn)
	req := buildRequest(captureID, events)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := client.Export(ctx, req); err != nil {
		return fmt.Errorf("otlplogs: export: %w", err)
	}
	return nil
}

func buildRequest(captureID string, events []model.Event) *colllog.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, 0, len(events))
	for _, e := range events {
		records = append(records, &logspb.LogRecord{
			TimeUnixNano: uint64(e.TS.UnixNano()),
			SeverityText: "INFO",
			Body:         &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: e.RawLine}},
			Attributes: []*commonpb.KeyValue{
				{Key: "event.type", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: string(e.Type)}}},
				{Key: "event.source", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: string(e.Source)}}},
			},
		})
	}

	return &colllog.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{Key: "service.name", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "jitterlens-report"}}},
					{Key: "capture.id", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: captureID}}},
				},
			},
			ScopeLogs: []*logspb.ScopeLogs{{LogRecords: records}},
		}},
	}
}
