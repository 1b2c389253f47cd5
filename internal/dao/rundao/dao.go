package rundao

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
)

// PK represents a DynamoDB partition key: the EC2 instance id
// Example: i-0123456789abcdef0
type PK string

// NewPK creates a partition key from an instance id
func NewPK(instanceID string) PK {
	return PK(instanceID)
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// ID represents a run ID in format {instance_id}:{ksuid}
// Example: i-0123456789abcdef0:2HFj3kLmNoPqRsTuVwXy
type ID string

func (id ID) String() string {
	return string(id)
}

// NewID constructs an ID from partition key and sort key
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ParseID parses a run ID into its partition key (pk) and sort key (sk) components
func ParseID(id ID) (pk PK, sk string, err error) {
	s := string(id)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid run ID format: %s, expected {instance_id}:{ksuid}", s)
	}
	return PK(parts[0]), parts[1], nil
}

// RunStatus is the outcome of a provisioning run
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Record represents a single provisioning run in DynamoDB
type Record struct {
	PK            PK        `ddb:"hash" dynamodbav:"pk"`  // instance id
	SK            string    `ddb:"range" dynamodbav:"sk"` // run KSUID
	Status        RunStatus `dynamodbav:"status,omitempty"`
	RepositoryURL string    `dynamodbav:"repository_url,omitempty"`
	Region        string    `dynamodbav:"region,omitempty"`
	TargetDir     string    `dynamodbav:"target_dir,omitempty"`
	FailedStage   string    `dynamodbav:"failed_stage,omitempty"`
	ErrorMsg      *string   `dynamodbav:"error_msg,omitempty"`
	AgentActive   bool      `dynamodbav:"agent_active"`
	AccountID     string    `dynamodbav:"account_id,omitempty"`
	StartedAt     int64     `dynamodbav:"started_at,omitempty"`  // Unix epoch timestamp
	FinishedAt    int64     `dynamodbav:"finished_at,omitempty"` // Unix epoch timestamp
}

// GetID returns the full run ID
func (r *Record) GetID() ID {
	return NewID(r.PK, r.SK)
}

// CreateInput contains the fields needed to record a finished run
type CreateInput struct {
	InstanceID    string
	RunID         string // KSUID sort key
	Status        RunStatus
	RepositoryURL string
	Region        string
	TargetDir     string
	FailedStage   string
	ErrorMsg      string
	AgentActive   bool
	AccountID     string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// DAO provides data access operations for run records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// NewRecord builds the record persisted for input
func NewRecord(input CreateInput) Record {
	record := Record{
		PK:            NewPK(input.InstanceID),
		SK:            input.RunID,
		Status:        input.Status,
		RepositoryURL: input.RepositoryURL,
		Region:        input.Region,
		TargetDir:     input.TargetDir,
		FailedStage:   input.FailedStage,
		AgentActive:   input.AgentActive,
		AccountID:     input.AccountID,
		StartedAt:     input.StartedAt.Unix(),
		FinishedAt:    input.FinishedAt.Unix(),
	}
	if input.ErrorMsg != "" {
		msg := input.ErrorMsg
		record.ErrorMsg = &msg
	}
	return record
}

// Create writes a run record
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	if input.InstanceID == "" || input.RunID == "" {
		return Record{}, fmt.Errorf("instance id and run id are required")
	}

	record := NewRecord(input)
	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by ID
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", bootstraperrors.ErrRecordNotFound, id)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("%w: %s", bootstraperrors.ErrRecordNotFound, id)
	}

	return record, nil
}

// Query returns all runs recorded for a partition key, most recent first
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	SortNewestFirst(records)
	return records, nil
}

// QueryByInstance returns all runs recorded for an instance
func (d *DAO) QueryByInstance(ctx context.Context, instanceID string) ([]Record, error) {
	return d.Query(ctx, NewPK(instanceID))
}

// SortNewestFirst orders records by run id descending. KSUIDs sort by time.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SK > records[j].SK
	})
}
