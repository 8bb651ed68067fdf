package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

const syncLogTTL = 90 * 24 * time.Hour

// LogEntry is one sync attempt for an appointment.
type LogEntry struct {
	Key           string       `dynamodbav:"pk" json:"-"`
	SortKey       string       `dynamodbav:"sk" json:"-"`
	ID            string       `dynamodbav:"id" json:"id"`
	TenantID      string       `dynamodbav:"tenantId" json:"tenant_id"`
	AppointmentID string       `dynamodbav:"appointmentId" json:"appointment_id"`
	Result        ResultStatus `dynamodbav:"result" json:"result"`
	Reason        string       `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	EventID       string       `dynamodbav:"eventId,omitempty" json:"event_id,omitempty"`
	RecordedAt    string       `dynamodbav:"recordedAt" json:"recorded_at"`
	ExpiresAt     int64        `dynamodbav:"expiresAt,omitempty" json:"-"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoSyncLog writes sync attempts to a DynamoDB table keyed by
// tenant and appointment.
type DynamoSyncLog struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
	logger    *logging.Logger
}

func NewDynamoSyncLog(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoSyncLog {
	if client == nil {
		panic("calendarsync: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("calendarsync: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoSyncLog{client: client, tableName: tableName, now: time.Now, logger: logger}
}

func logKey(tenantID, appointmentID string) string {
	return tenantID + "#" + appointmentID
}

func (l *DynamoSyncLog) Record(ctx context.Context, entry LogEntry) error {
	if entry.TenantID == "" || entry.AppointmentID == "" {
		return errors.New("calendarsync: sync log entry requires tenant and appointment")
	}
	now := l.now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.RecordedAt = now.Format(time.RFC3339Nano)
	entry.Key = logKey(entry.TenantID, entry.AppointmentID)
	entry.SortKey = entry.RecordedAt + "#" + entry.ID
	entry.ExpiresAt = now.Add(syncLogTTL).Unix()

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("calendarsync: marshal sync log entry: %w", err)
	}
	if _, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("calendarsync: put sync log entry: %w", err)
	}
	return nil
}

// List returns the attempts for one appointment, oldest first.
func (l *DynamoSyncLog) List(ctx context.Context, tenantID, appointmentID string) ([]LogEntry, error) {
	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: logKey(tenantID, appointmentID)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("calendarsync: query sync log: %w", err)
	}
	var entries []LogEntry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, fmt.Errorf("calendarsync: unmarshal sync log: %w", err)
	}
	return entries, nil
}

// MemorySyncLog keeps entries in process; used when no table is configured.
type MemorySyncLog struct {
	mu      sync.Mutex
	entries map[string][]LogEntry
}

func NewMemorySyncLog() *MemorySyncLog {
	return &MemorySyncLog{entries: make(map[string][]LogEntry)}
}

func (m *MemorySyncLog) Record(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	key := logKey(entry.TenantID, entry.AppointmentID)
	m.entries[key] = append(m.entries[key], entry)
	return nil
}

func (m *MemorySyncLog) List(_ context.Context, tenantID, appointmentID string) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.entries[logKey(tenantID, appointmentID)]...), nil
}
