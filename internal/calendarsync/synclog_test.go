package calendarsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/agenda-platform/pkg/logging"
)

type mockDynamo struct {
	putInput   *dynamodb.PutItemInput
	queryInput *dynamodb.QueryInput
	items      []map[string]types.AttributeValue
	err        error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.putInput = in
	m.items = append(m.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.queryInput = in
	return &dynamodb.QueryOutput{Items: m.items}, nil
}

func TestDynamoSyncLog_RecordKeysByAppointment(t *testing.T) {
	mock := &mockDynamo{}
	log := NewDynamoSyncLog(mock, "calendar_sync_log", logging.Default())

	err := log.Record(context.Background(), LogEntry{
		TenantID:      "tenant-1",
		AppointmentID: "appt-1",
		Result:        ResultSkipped,
		Reason:        ReasonNoStaff,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if mock.putInput == nil || *mock.putInput.TableName != "calendar_sync_log" {
		t.Fatalf("expected PutItem on calendar_sync_log")
	}

	var stored LogEntry
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored entry: %v", err)
	}
	if stored.Key != "tenant-1#appt-1" {
		t.Fatalf("unexpected partition key %q", stored.Key)
	}
	if stored.ID == "" || stored.RecordedAt == "" {
		t.Fatal("expected id and timestamp to be populated")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL in the future")
	}
	if stored.Reason != ReasonNoStaff {
		t.Fatalf("expected reason %q, got %q", ReasonNoStaff, stored.Reason)
	}
}

func TestDynamoSyncLog_ListQueriesPartition(t *testing.T) {
	mock := &mockDynamo{}
	log := NewDynamoSyncLog(mock, "calendar_sync_log", nil)
	ctx := context.Background()

	for _, res := range []ResultStatus{ResultFailed, ResultSynced} {
		if err := log.Record(ctx, LogEntry{TenantID: "tenant-1", AppointmentID: "appt-1", Result: res}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := log.List(ctx, "tenant-1", "appt-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 2 || entries[1].Result != ResultSynced {
		t.Fatalf("unexpected entries %+v", entries)
	}
	pk := mock.queryInput.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
	if pk.Value != "tenant-1#appt-1" {
		t.Fatalf("unexpected query key %q", pk.Value)
	}
}

func TestDynamoSyncLog_Errors(t *testing.T) {
	log := NewDynamoSyncLog(&mockDynamo{err: errors.New("throttled")}, "calendar_sync_log", nil)
	if err := log.Record(context.Background(), LogEntry{TenantID: "tenant-1", AppointmentID: "appt-1"}); err == nil {
		t.Fatal("expected put error")
	}
	if err := log.Record(context.Background(), LogEntry{TenantID: "tenant-1"}); err == nil {
		t.Fatal("expected validation error for missing appointment")
	}
	if _, err := log.List(context.Background(), "tenant-1", "appt-1"); err == nil {
		t.Fatal("expected query error")
	}
}
