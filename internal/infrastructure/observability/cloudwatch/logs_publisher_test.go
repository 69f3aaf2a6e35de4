package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	applicationPort "github.com/dreschagin/link-preview/internal/application/port"
)

type fakeLogsClient struct {
	puts    []*cloudwatchlogs.PutLogEventsInput
	groups  int
	streams int
	seqErr  bool
	err     error
}

func (c *fakeLogsClient) PutLogEvents(_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	c.puts = append(c.puts, in)
	if c.err != nil {
		return nil, c.err
	}
	if c.seqErr {
		c.seqErr = false
		return nil, &types.InvalidSequenceTokenException{ExpectedSequenceToken: aws.String("expected")}
	}
	return &cloudwatchlogs.PutLogEventsOutput{NextSequenceToken: aws.String("next")}, nil
}

func (c *fakeLogsClient) CreateLogGroup(context.Context, *cloudwatchlogs.CreateLogGroupInput, ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	c.groups++
	return nil, &types.ResourceAlreadyExistsException{}
}

func (c *fakeLogsClient) CreateLogStream(context.Context, *cloudwatchlogs.CreateLogStreamInput, ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	c.streams++
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func TestConvertToLogEvent(t *testing.T) {
	p := &LogsPublisher{
		logGroupName:  "/link-preview/test",
		logStreamName: "test-stream",
		service:       "link-preview",
	}

	timestamp := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	entry := applicationPort.LogEntry{
		Timestamp: timestamp,
		Level:     applicationPort.LogLevelInfo,
		Message:   "Test message",
		Fields: map[string]interface{}{
			"url":      "https://example.com",
			"provider": "local",
			"bytes":    42,
		},
	}

	event, err := p.convertToLogEvent(entry)
	if err != nil {
		t.Fatalf("Failed to convert log entry: %v", err)
	}

	// Verify timestamp
	expectedTimestamp := timestamp.UnixMilli()
	if event.Timestamp == nil || *event.Timestamp != expectedTimestamp {
		t.Errorf("Expected Timestamp=%d, got %v", expectedTimestamp, event.Timestamp)
	}

	// Verify message is valid JSON
	if event.Message == nil {
		t.Fatal("Expected Message to be set")
	}

	var logData map[string]interface{}
	if err := json.Unmarshal([]byte(*event.Message), &logData); err != nil {
		t.Fatalf("Failed to parse log message as JSON: %v", err)
	}

	// Verify structured fields
	if logData["level"] != string(applicationPort.LogLevelInfo) {
		t.Errorf("Expected level=INFO, got %v", logData["level"])
	}

	if logData["message"] != "Test message" {
		t.Errorf("Expected message='Test message', got %v", logData["message"])
	}

	if logData["service"] != "link-preview" {
		t.Errorf("Expected service=link-preview, got %v", logData["service"])
	}

	fields, ok := logData["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected fields to be a map")
	}

	if fields["url"] != "https://example.com" {
		t.Errorf("Expected url=https://example.com, got %v", fields["url"])
	}

	if fields["provider"] != "local" {
		t.Errorf("Expected provider=local, got %v", fields["provider"])
	}

	// JSON numbers are float64
	if size, ok := fields["bytes"].(float64); !ok || size != 42 {
		t.Errorf("Expected bytes=42, got %v", fields["bytes"])
	}
}

func TestConvertToLogEvent_CaptureFields(t *testing.T) {
	p := &LogsPublisher{service: "link-preview"}

	entry := applicationPort.NewLogEntry(time.Now(), applicationPort.LogLevelError, "Screenshot upload failed",
		"url", "https://example.com",
		"key", "link-preview/screenshot-1767225600000.png",
		"request_id", "req-42",
		"error", "AccessDenied",
	)

	event, err := p.convertToLogEvent(entry)
	if err != nil {
		t.Fatalf("Failed to convert log entry: %v", err)
	}

	var logData map[string]interface{}
	if err := json.Unmarshal([]byte(aws.ToString(event.Message)), &logData); err != nil {
		t.Fatalf("Failed to parse log message as JSON: %v", err)
	}

	for field, want := range map[string]string{
		"request_id": "req-42",
		"object_key": "link-preview/screenshot-1767225600000.png",
		"source_url": "https://example.com",
	} {
		if logData[field] != want {
			t.Errorf("%s = %v, want %s", field, logData[field], want)
		}
	}

	fields, ok := logData["fields"].(map[string]interface{})
	if !ok || fields["error"] != "AccessDenied" {
		t.Fatalf("expected error in fields, got %v", logData["fields"])
	}
	if _, dup := fields["request_id"]; dup {
		t.Error("request_id must not be duplicated inside fields")
	}
}

func TestConvertToLogEvent_NoFields(t *testing.T) {
	p := &LogsPublisher{
		logGroupName:  "/link-preview/test",
		logStreamName: "test-stream",
	}

	timestamp := time.Now()
	entry := applicationPort.LogEntry{
		Timestamp: timestamp,
		Level:     applicationPort.LogLevelError,
		Message:   "Error occurred",
		Fields:    nil,
	}

	event, err := p.convertToLogEvent(entry)
	if err != nil {
		t.Fatalf("Failed to convert log entry: %v", err)
	}

	if event.Message == nil {
		t.Fatal("Expected Message to be set")
	}

	var logData map[string]interface{}
	if err := json.Unmarshal([]byte(*event.Message), &logData); err != nil {
		t.Fatalf("Failed to parse log message as JSON: %v", err)
	}

	if logData["level"] != string(applicationPort.LogLevelError) {
		t.Errorf("Expected level=ERROR, got %v", logData["level"])
	}

	if logData["message"] != "Error occurred" {
		t.Errorf("Expected message='Error occurred', got %v", logData["message"])
	}
}

func TestConvertToLogEvent_Truncation(t *testing.T) {
	p := &LogsPublisher{
		logGroupName:  "/link-preview/test",
		logStreamName: "test-stream",
	}

	// Create a very large message that exceeds CloudWatch limit
	largeMessage := string(make([]byte, maxLogEventSize+1000))

	timestamp := time.Now()
	entry := applicationPort.LogEntry{
		Timestamp: timestamp,
		Level:     applicationPort.LogLevelInfo,
		Message:   largeMessage,
		Fields:    nil,
	}

	event, err := p.convertToLogEvent(entry)
	if err != nil {
		t.Fatalf("Failed to convert log entry: %v", err)
	}

	if event.Message == nil {
		t.Fatal("Expected Message to be set")
	}

	// Verify message was truncated
	messageLen := len(*event.Message)
	if messageLen > maxLogEventSize {
		t.Errorf("Expected message to be truncated to %d bytes, got %d", maxLogEventSize, messageLen)
	}

	// Verify truncation marker
	if messageLen >= 3 {
		lastThree := (*event.Message)[messageLen-3:]
		if lastThree != "..." {
			t.Error("Expected truncation marker '...' at end of message")
		}
	}
}

func TestNormalizeLogsConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    LogsPublisherConfig
		expectErr bool
	}{
		{
			name: "valid config",
			config: LogsPublisherConfig{
				LogGroupName:  "/link-preview/test",
				LogStreamName: "test-stream",
				Region:        "us-east-1",
			},
		},
		{
			name:      "missing log group",
			config:    LogsPublisherConfig{LogStreamName: "test-stream", Region: "us-east-1"},
			expectErr: true,
		},
		{
			name:      "missing log stream",
			config:    LogsPublisherConfig{LogGroupName: "/link-preview/test", Region: "us-east-1"},
			expectErr: true,
		},
		{
			name:      "missing region",
			config:    LogsPublisherConfig{LogGroupName: "/link-preview/test", LogStreamName: "test-stream"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := normalizeLogsConfig(tt.config)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.BufferSize != 50 {
				t.Errorf("BufferSize = %d, want 50", cfg.BufferSize)
			}
			if cfg.FlushInterval != 5*time.Second {
				t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
			}
		})
	}
}

func TestFlush_ChronologicalOrdering(t *testing.T) {
	client := &fakeLogsClient{}
	p := newLogsPublisher(client, LogsPublisherConfig{
		LogGroupName:  "/link-preview/test",
		LogStreamName: "test-stream",
		BufferSize:    10,
	})

	now := time.Now()
	entries := []applicationPort.LogEntry{
		{Timestamp: now.Add(5 * time.Second), Level: applicationPort.LogLevelInfo, Message: "Third"},
		{Timestamp: now, Level: applicationPort.LogLevelInfo, Message: "First"},
		{Timestamp: now.Add(2 * time.Second), Level: applicationPort.LogLevelInfo, Message: "Second"},
	}
	for _, entry := range entries {
		if err := p.Publish(context.Background(), entry); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if len(client.puts) != 1 {
		t.Fatalf("expected one PutLogEvents call, got %d", len(client.puts))
	}
	events := client.puts[0].LogEvents
	for i, want := range []string{"First", "Second", "Third"} {
		if !strings.Contains(aws.ToString(events[i].Message), want) {
			t.Errorf("event %d: expected %s, got %s", i, want, aws.ToString(events[i].Message))
		}
	}
	if aws.ToString(p.sequenceToken) != "next" {
		t.Errorf("expected sequence token to advance, got %v", p.sequenceToken)
	}
}

func TestFlush_RetriesWithExpectedSequenceToken(t *testing.T) {
	client := &fakeLogsClient{seqErr: true}
	p := newLogsPublisher(client, LogsPublisherConfig{
		LogGroupName:  "/link-preview/test",
		LogStreamName: "test-stream",
		BufferSize:    10,
	})

	if err := p.Publish(context.Background(), applicationPort.LogEntry{Timestamp: time.Now(), Level: applicationPort.LogLevelWarn, Message: "retry"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if len(client.puts) != 2 {
		t.Fatalf("expected retry after sequence error, got %d calls", len(client.puts))
	}
	if aws.ToString(client.puts[1].SequenceToken) != "expected" {
		t.Errorf("expected retry with token from exception, got %v", client.puts[1].SequenceToken)
	}
}

func TestEnsureLogGroupAndStream_IgnoresExisting(t *testing.T) {
	client := &fakeLogsClient{}
	p := newLogsPublisher(client, LogsPublisherConfig{LogGroupName: "/link-preview/test", LogStreamName: "test-stream"})

	if err := p.ensureLogGroupAndStream(context.Background()); err != nil {
		t.Fatalf("ensureLogGroupAndStream() error = %v", err)
	}
	if client.groups != 1 || client.streams != 1 {
		t.Fatalf("unexpected create calls: groups=%d streams=%d", client.groups, client.streams)
	}
}

func TestChunkLogEvents(t *testing.T) {
	big := strings.Repeat("x", maxLogEventSize-100)
	events := make([]types.InputLogEvent, 0, 6)
	for i := 0; i < 6; i++ {
		events = append(events, types.InputLogEvent{Message: aws.String(big), Timestamp: aws.Int64(int64(i))})
	}

	chunks := chunkLogEvents(events)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks by size, got %d", len(chunks))
	}
	total := 0
	for _, chunk := range chunks {
		size := 0
		for _, event := range chunk {
			size += len(aws.ToString(event.Message)) + logEventOverhead
		}
		if size > maxLogBatchSize {
			t.Errorf("chunk exceeds batch size: %d", size)
		}
		total += len(chunk)
	}
	if total != len(events) {
		t.Errorf("expected %d events across chunks, got %d", len(events), total)
	}

	if got := chunkLogEvents(nil); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
}

func TestPublish_DropsOldestWhileSinkIsDown(t *testing.T) {
	client := &fakeLogsClient{err: errors.New("ServiceUnavailable")}
	p := newLogsPublisher(client, LogsPublisherConfig{
		LogGroupName:  "/link-preview/test",
		LogStreamName: "test-stream",
		BufferSize:    2,
		MaxBuffered:   3,
		FlushInterval: time.Minute,
	})

	// отмененный контекст обрывает backoff между повторами
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	base := time.Now()
	for i := 0; i < 5; i++ {
		entry := applicationPort.LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     applicationPort.LogLevelInfo,
			Message:   fmt.Sprintf("entry-%d", i),
		}
		err := p.Publish(canceled, entry)
		if i == 1 && err == nil {
			t.Fatal("expected flush error when buffer fills up")
		}
		if i > 1 && err != nil {
			t.Fatalf("Publish() %d should be buffered during pause, got %v", i, err)
		}
	}

	callsWhileDown := len(client.puts)
	if callsWhileDown != 1 {
		t.Fatalf("expected a single PutLogEvents attempt before pause, got %d", callsWhileDown)
	}

	client.err = nil
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	events := client.puts[len(client.puts)-1].LogEvents
	if len(events) != 4 {
		t.Fatalf("expected overflow note and 3 entries, got %d events", len(events))
	}
	if msg := aws.ToString(events[0].Message); !strings.Contains(msg, "buffer overflow") || !strings.Contains(msg, `"dropped":2`) {
		t.Errorf("expected overflow note first, got %s", msg)
	}
	for i, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(aws.ToString(events[i+1].Message), want) {
			t.Errorf("event %d: expected %s, got %s", i+1, want, aws.ToString(events[i+1].Message))
		}
	}

	// счетчик потерь сброшен после успешной отправки
	if err := p.Publish(context.Background(), applicationPort.LogEntry{Timestamp: time.Now(), Level: applicationPort.LogLevelInfo, Message: "after"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if last := client.puts[len(client.puts)-1].LogEvents; len(last) != 1 {
		t.Errorf("expected only the new entry, got %d events", len(last))
	}
}
