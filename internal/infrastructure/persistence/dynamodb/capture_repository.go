package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/domain/entity"
)

const (
	defaultListLimit = 12
	maxListLimit     = 100

	capturePartition = "CAPTURE"

	attrPK          = "PK"
	attrSK          = "SK"
	attrID          = "id"
	attrSourceURL   = "source_url"
	attrObjectKey   = "object_key"
	attrURL         = "url"
	attrContentType = "content_type"
	attrSizeBytes   = "size_bytes"
	attrProvider    = "provider"
	attrDurationMS  = "duration_ms"
	attrCapturedAt  = "captured_at"
	attrExpiresAt   = "expires_at"
)

type Config struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StrongReads     bool
	TTL             time.Duration
}

// CaptureRepository хранит индекс скриншотов в одной партиции DynamoDB,
// сортировка по SK = <ms>#<id>.
type CaptureRepository struct {
	client      *dynamodb.Client
	tableName   string
	strongReads bool
	ttl         time.Duration
}

type cursorValue struct {
	S string `json:"s,omitempty"`
	N string `json:"n,omitempty"`
}

func NewCaptureRepository(ctx context.Context, cfg Config) (*CaptureRepository, error) {
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return &CaptureRepository{
		client:      client,
		tableName:   strings.TrimSpace(cfg.TableName),
		strongReads: cfg.StrongReads,
		ttl:         cfg.TTL,
	}, nil
}

func (r *CaptureRepository) Save(ctx context.Context, capture *entity.Capture) error {
	item, err := toItem(capture, r.ttl)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &r.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item failed: %w", err)
	}

	return nil
}

func (r *CaptureRepository) ListRecent(ctx context.Context, query port.CaptureListQuery) (port.CaptureListPage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	keyCondition := "#pk = :pk"
	input := &dynamodb.QueryInput{
		TableName:              &r.tableName,
		KeyConditionExpression: &keyCondition,
		Limit:                  int32Pointer(int32(limit)),
		ScanIndexForward:       boolPointer(false),
		ConsistentRead:         boolPointer(r.strongReads),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: capturePartition},
		},
	}

	if strings.TrimSpace(query.Cursor) != "" {
		exclusiveStartKey, err := decodeCursor(query.Cursor)
		if err != nil {
			return port.CaptureListPage{}, err
		}
		input.ExclusiveStartKey = exclusiveStartKey
	}

	output, err := r.client.Query(ctx, input)
	if err != nil {
		return port.CaptureListPage{}, fmt.Errorf("dynamodb query failed: %w", err)
	}

	items := make([]*entity.Capture, 0, len(output.Items))
	for _, raw := range output.Items {
		capture, err := fromItem(raw)
		if err != nil {
			return port.CaptureListPage{}, err
		}
		items = append(items, capture)
	}

	nextCursor := ""
	if len(output.LastEvaluatedKey) > 0 {
		nextCursor, err = encodeCursor(output.LastEvaluatedKey)
		if err != nil {
			return port.CaptureListPage{}, err
		}
	}

	return port.CaptureListPage{
		Items:      items,
		NextCursor: nextCursor,
	}, nil
}

// Ping проверяет, что таблица существует
func (r *CaptureRepository) Ping(ctx context.Context) error {
	if _, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &r.tableName}); err != nil {
		return fmt.Errorf("dynamodb describe table failed: %w", err)
	}
	return nil
}

func toItem(capture *entity.Capture, ttl time.Duration) (map[string]types.AttributeValue, error) {
	if capture == nil {
		return nil, fmt.Errorf("capture is required")
	}
	if strings.TrimSpace(capture.ID()) == "" {
		return nil, fmt.Errorf("capture id is required")
	}
	if strings.TrimSpace(capture.ObjectKey()) == "" {
		return nil, fmt.Errorf("object_key is required")
	}

	capturedAt := capture.CapturedAt().UTC()
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	capturedAtMS := capturedAt.UnixMilli()

	item := map[string]types.AttributeValue{
		attrPK:          &types.AttributeValueMemberS{Value: capturePartition},
		attrSK:          &types.AttributeValueMemberS{Value: buildSK(capturedAtMS, capture.ID())},
		attrID:          &types.AttributeValueMemberS{Value: capture.ID()},
		attrSourceURL:   &types.AttributeValueMemberS{Value: capture.SourceURL()},
		attrObjectKey:   &types.AttributeValueMemberS{Value: capture.ObjectKey()},
		attrURL:         &types.AttributeValueMemberS{Value: capture.PublicURL()},
		attrContentType: &types.AttributeValueMemberS{Value: capture.ContentType()},
		attrSizeBytes:   &types.AttributeValueMemberN{Value: strconv.FormatInt(capture.SizeBytes(), 10)},
		attrDurationMS:  &types.AttributeValueMemberN{Value: strconv.FormatInt(capture.Duration().Milliseconds(), 10)},
		attrCapturedAt:  &types.AttributeValueMemberN{Value: strconv.FormatInt(capturedAtMS, 10)},
	}

	if provider := strings.TrimSpace(capture.Provider()); provider != "" {
		item[attrProvider] = &types.AttributeValueMemberS{Value: provider}
	}
	if ttl > 0 {
		expiresAt := capturedAt.Add(ttl).Unix()
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)}
	}

	return item, nil
}

func fromItem(item map[string]types.AttributeValue) (*entity.Capture, error) {
	id, err := attrString(item, attrID)
	if err != nil {
		return nil, err
	}
	objectKey, err := attrString(item, attrObjectKey)
	if err != nil {
		return nil, err
	}
	publicURL, err := attrString(item, attrURL)
	if err != nil {
		return nil, err
	}
	capturedAtMS, err := attrInt64(item, attrCapturedAt)
	if err != nil {
		return nil, err
	}

	return entity.Reconstruct(
		id,
		optionalString(item, attrSourceURL),
		objectKey,
		publicURL,
		optionalString(item, attrContentType),
		optionalInt64(item, attrSizeBytes),
		optionalString(item, attrProvider),
		time.UnixMilli(capturedAtMS).UTC(),
		time.Duration(optionalInt64(item, attrDurationMS))*time.Millisecond,
	), nil
}

func buildSK(capturedAtMS int64, id string) string {
	return fmt.Sprintf("%013d#%s", capturedAtMS, id)
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	values := make(map[string]cursorValue, len(key))
	for attributeName, raw := range key {
		switch value := raw.(type) {
		case *types.AttributeValueMemberS:
			values[attributeName] = cursorValue{S: value.Value}
		case *types.AttributeValueMemberN:
			values[attributeName] = cursorValue{N: value.Value}
		default:
			return "", fmt.Errorf("unsupported cursor attribute type for %s", attributeName)
		}
	}

	serialized, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(serialized), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, port.ErrInvalidCursor
	}

	var values map[string]cursorValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, port.ErrInvalidCursor
	}

	// Курсор обязан указывать на нашу партицию
	pk, ok := values[attrPK]
	if !ok || pk.S != capturePartition {
		return nil, port.ErrInvalidCursor
	}
	if _, ok := values[attrSK]; !ok {
		return nil, port.ErrInvalidCursor
	}

	key := make(map[string]types.AttributeValue, len(values))
	for attributeName, value := range values {
		if value.S != "" {
			key[attributeName] = &types.AttributeValueMemberS{Value: value.S}
			continue
		}
		if value.N != "" {
			key[attributeName] = &types.AttributeValueMemberN{Value: value.N}
			continue
		}
		return nil, port.ErrInvalidCursor
	}

	return key, nil
}

func attrString(item map[string]types.AttributeValue, name string) (string, error) {
	raw, ok := item[name]
	if !ok {
		return "", fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok || strings.TrimSpace(value.Value) == "" {
		return "", fmt.Errorf("invalid attribute %s", name)
	}
	return value.Value, nil
}

func optionalString(item map[string]types.AttributeValue, name string) string {
	raw, ok := item[name]
	if !ok {
		return ""
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return value.Value
}

func attrInt64(item map[string]types.AttributeValue, name string) (int64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid attribute %s", name)
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid attribute %s: %w", name, err)
	}
	return parsed, nil
}

func optionalInt64(item map[string]types.AttributeValue, name string) int64 {
	raw, ok := item[name]
	if !ok {
		return 0
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func boolPointer(v bool) *bool {
	return &v
}

func int32Pointer(v int32) *int32 {
	return &v
}
