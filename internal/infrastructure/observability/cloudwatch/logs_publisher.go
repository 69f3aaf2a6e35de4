package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	applicationPort "github.com/dreschagin/link-preview/internal/application/port"
)

const (
	// лимиты PutLogEvents
	maxLogEventsPerRequest = 10000
	maxLogBatchSize        = 1048576 // 1 MB
	maxLogEventSize        = 256000  // 256 KB
	logEventOverhead       = 26
)

type logsAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

// LogsPublisherConfig настройки отправки логов сервиса в CloudWatch Logs
type LogsPublisherConfig struct {
	LogGroupName    string // e.g. "/link-preview/api"
	LogStreamName   string // по умолчанию hostname
	Region          string
	Endpoint        string // LocalStack
	AccessKeyID     string
	SecretAccessKey string
	Service         string // добавляется в каждую запись
	BufferSize      int
	FlushInterval   time.Duration
	AutoCreate      bool

	// MaxBuffered сколько записей держим, пока CloudWatch недоступен.
	// Сверх лимита отбрасываются самые старые. По умолчанию 20 * BufferSize.
	MaxBuffered int
}

// LogsPublisher реализует port.LogPublisher поверх PutLogEvents
type LogsPublisher struct {
	client        logsAPI
	logGroupName  string
	logStreamName string
	service       string
	autoCreate    bool

	buffer        []applicationPort.LogEntry
	bufferSize    int
	maxBuffered   int
	dropped       int
	flushInterval time.Duration
	pausedUntil   time.Time // после неудачного flush Publish не ходит в сеть до этого момента
	now           func() time.Time
	mu            sync.Mutex

	sequenceToken *string // CloudWatch requires sequence tokens for ordering

	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewLogsPublisher создает группу и поток (если AutoCreate) и запускает фоновый flush
func NewLogsPublisher(ctx context.Context, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	cfg, err := normalizeLogsConfig(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	p := newLogsPublisher(cloudwatchlogs.NewFromConfig(awsCfg), cfg)

	if cfg.AutoCreate {
		if err := p.ensureLogGroupAndStream(ctx); err != nil {
			return nil, fmt.Errorf("failed to create log group/stream: %w", err)
		}
	}

	p.flushTicker = time.NewTicker(cfg.FlushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p, nil
}

func normalizeLogsConfig(cfg LogsPublisherConfig) (LogsPublisherConfig, error) {
	if cfg.LogGroupName == "" {
		return cfg, fmt.Errorf("log group name is required")
	}
	if cfg.LogStreamName == "" {
		return cfg, fmt.Errorf("log stream name is required")
	}
	if cfg.Region == "" {
		return cfg, fmt.Errorf("region is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxBuffered < cfg.BufferSize {
		cfg.MaxBuffered = 20 * cfg.BufferSize
	}
	return cfg, nil
}

func newLogsPublisher(client logsAPI, cfg LogsPublisherConfig) *LogsPublisher {
	return &LogsPublisher{
		client:        client,
		logGroupName:  cfg.LogGroupName,
		logStreamName: cfg.LogStreamName,
		service:       cfg.Service,
		autoCreate:    cfg.AutoCreate,
		buffer:        make([]applicationPort.LogEntry, 0, cfg.BufferSize),
		bufferSize:    cfg.BufferSize,
		maxBuffered:   cfg.MaxBuffered,
		flushInterval: cfg.FlushInterval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Publish кладет запись в буфер и отправляет пачку, когда буфер заполнен.
// Пока CloudWatch отвечает ошибкой, отправка откладывается до фонового тика.
func (p *LogsPublisher) Publish(ctx context.Context, entry applicationPort.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.appendLocked(entry)

	if len(p.buffer) < p.bufferSize || p.now().Before(p.pausedUntil) {
		return nil
	}
	if err := p.flushBufferUnsafe(ctx); err != nil {
		p.pausedUntil = p.now().Add(p.flushInterval)
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// appendLocked добавляет запись и вытесняет самые старые сверх maxBuffered
func (p *LogsPublisher) appendLocked(entry applicationPort.LogEntry) {
	p.buffer = append(p.buffer, entry)

	if p.maxBuffered <= 0 {
		return
	}
	if overflow := len(p.buffer) - p.maxBuffered; overflow > 0 {
		n := copy(p.buffer, p.buffer[overflow:])
		p.buffer = p.buffer[:n]
		p.dropped += overflow
	}
}

// Flush отправляет буфер сразу и снимает паузу после ошибок
func (p *LogsPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.flushBufferUnsafe(ctx); err != nil {
		return err
	}
	p.pausedUntil = time.Time{}
	return nil
}

// Close останавливает фоновый flush и отправляет остаток
func (p *LogsPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.flushTicker != nil {
			p.flushTicker.Stop()
		}
	})
	p.wg.Wait()

	return p.Flush(ctx)
}

func (p *LogsPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			// ошибку не логируем: логгер пишет сюда же. Буфер уйдет на следующем тике
			_ = p.Flush(ctx)
			cancel()
		case <-p.stopCh:
			return
		}
	}
}

// flushBufferUnsafe вызывается под p.mu
func (p *LogsPublisher) flushBufferUnsafe(ctx context.Context) error {
	if len(p.buffer) == 0 {
		return nil
	}

	// PutLogEvents требует хронологический порядок
	sort.SliceStable(p.buffer, func(i, j int) bool {
		return p.buffer[i].Timestamp.Before(p.buffer[j].Timestamp)
	})

	entries := p.buffer
	if p.dropped > 0 {
		// запись о потере идет первой, с меткой самой старой уцелевшей
		note := applicationPort.LogEntry{
			Timestamp: p.buffer[0].Timestamp,
			Level:     applicationPort.LogLevelWarn,
			Message:   "CloudWatch log buffer overflow",
			Fields:    map[string]interface{}{"dropped": p.dropped},
		}
		entries = append([]applicationPort.LogEntry{note}, p.buffer...)
	}

	events := make([]types.InputLogEvent, 0, len(entries))
	for _, entry := range entries {
		event, err := p.convertToLogEvent(entry)
		if err != nil {
			// битая запись не должна ронять всю пачку
			continue
		}
		events = append(events, event)
	}

	if len(events) == 0 {
		p.buffer = p.buffer[:0]
		return nil
	}

	for _, chunk := range chunkLogEvents(events) {
		if err := p.publishLogEventsWithRetry(ctx, chunk); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}

	p.buffer = p.buffer[:0]
	p.dropped = 0

	return nil
}

// chunkLogEvents режет события по лимитам PutLogEvents: количество и суммарный размер
// (каждое событие считается как len(message)+26 байт).
func chunkLogEvents(events []types.InputLogEvent) [][]types.InputLogEvent {
	chunks := make([][]types.InputLogEvent, 0, 1)
	start, size := 0, 0
	for i, event := range events {
		eventSize := len(aws.ToString(event.Message)) + logEventOverhead
		if i > start && (i-start >= maxLogEventsPerRequest || size+eventSize > maxLogBatchSize) {
			chunks = append(chunks, events[start:i])
			start, size = i, 0
		}
		size += eventSize
	}
	if start < len(events) {
		chunks = append(chunks, events[start:])
	}
	return chunks
}

// publishLogEventsWithRetry повторяет PutLogEvents с экспоненциальной паузой
func (p *LogsPublisher) publishLogEventsWithRetry(ctx context.Context, events []types.InputLogEvent) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		input := &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(p.logGroupName),
			LogStreamName: aws.String(p.logStreamName),
			LogEvents:     events,
			SequenceToken: p.sequenceToken,
		}

		output, err := p.client.PutLogEvents(ctx, input)
		if err == nil {
			p.sequenceToken = output.NextSequenceToken
			return nil
		}

		// CloudWatch подсказывает нужный sequence token, повторяем сразу
		var invalidSeqErr *types.InvalidSequenceTokenException
		if errors.As(err, &invalidSeqErr) {
			p.sequenceToken = invalidSeqErr.ExpectedSequenceToken
			continue
		}

		lastErr = err

		if attempt < maxRetries-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// convertToLogEvent сериализует запись в JSON одной строкой
func (p *LogsPublisher) convertToLogEvent(entry applicationPort.LogEntry) (types.InputLogEvent, error) {
	logData := map[string]interface{}{
		"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
		"level":     string(entry.Level),
		"message":   entry.Message,
	}

	if p.service != "" {
		logData["service"] = p.service
	}
	// request_id и ключ скриншота на верхнем уровне: по ним фильтруют в Logs Insights
	if entry.RequestID != "" {
		logData["request_id"] = entry.RequestID
	}
	if entry.ObjectKey != "" {
		logData["object_key"] = entry.ObjectKey
	}
	if entry.SourceURL != "" {
		logData["source_url"] = entry.SourceURL
	}
	if len(entry.Fields) > 0 {
		logData["fields"] = entry.Fields
	}

	messageJSON, err := json.Marshal(logData)
	if err != nil {
		return types.InputLogEvent{}, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	// событие больше 256 KB CloudWatch отвергает целиком
	message := string(messageJSON)
	if len(message) > maxLogEventSize {
		message = message[:maxLogEventSize-3] + "..."
	}

	return types.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(entry.Timestamp.UnixMilli()),
	}, nil
}

// ensureLogGroupAndStream создает группу и поток; уже существующие не ошибка
func (p *LogsPublisher) ensureLogGroupAndStream(ctx context.Context) error {
	_, err := p.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(p.logGroupName),
	})
	if err != nil {
		var alreadyExists *types.ResourceAlreadyExistsException
		if !errors.As(err, &alreadyExists) {
			return fmt.Errorf("failed to create log group: %w", err)
		}
	}

	_, err = p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(p.logGroupName),
		LogStreamName: aws.String(p.logStreamName),
	})
	if err != nil {
		var alreadyExists *types.ResourceAlreadyExistsException
		if !errors.As(err, &alreadyExists) {
			return fmt.Errorf("failed to create log stream: %w", err)
		}
	}

	return nil
}
