package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/types"
)

// Single-table key layout.
const (
	jobPKPrefix   = "JOB#"
	imagePKPrefix = "IMAGE#"
	skMeta        = "META"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table keyed by PK/SK.
// Guards are expressed as condition expressions so each mutation is one
// atomic write.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) Close() error { return nil }

func jobPK(id string) string   { return jobPKPrefix + id }
func imagePK(id string) string { return imagePKPrefix + id }

func itemKey(pk string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
		"SK": &ddbtypes.AttributeValueMemberS{Value: skMeta},
	}
}

func isConditionFailed(err error) bool {
	var ccf *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// putIfAbsent writes data under pk unless an item already exists there.
func (s *DynamoStore) putIfAbsent(ctx context.Context, pk string, data interface{}) (bool, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &ddbtypes.AttributeValueMemberS{Value: pk}
	item["SK"] = &ddbtypes.AttributeValueMemberS{Value: skMeta}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("PutItem PK=%s: %w", pk, err)
	}
	return true, nil
}

// getItem returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s: %w", pk, err)
	}
	return true, nil
}

// updateBuilder accumulates SET clauses with placeholder names so reserved
// words such as status and state never appear in the expression.
type updateBuilder struct {
	sets   []string
	names  map[string]string
	values map[string]ddbtypes.AttributeValue
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		names:  map[string]string{},
		values: map[string]ddbtypes.AttributeValue{},
	}
}

// name returns the placeholder path for a dotted attribute path.
func (b *updateBuilder) name(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		ph := "#" + p
		b.names[ph] = p
		parts[i] = ph
	}
	return strings.Join(parts, ".")
}

func (b *updateBuilder) value(v interface{}) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", err
	}
	ph := ":v" + strconv.Itoa(len(b.values))
	b.values[ph] = av
	return ph, nil
}

func (b *updateBuilder) set(path string, v interface{}) error {
	ph, err := b.value(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	b.sets = append(b.sets, b.name(path)+" = "+ph)
	return nil
}

type field struct {
	path string
	v    interface{}
}

func (b *updateBuilder) setAll(fields []field) error {
	for _, f := range fields {
		if err := b.set(f.path, f.v); err != nil {
			return err
		}
	}
	return nil
}

func (b *updateBuilder) appendList(path string, v interface{}) error {
	ph, err := b.value(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	empty, _ := b.value([]types.Attempt{})
	n := b.name(path)
	b.sets = append(b.sets, fmt.Sprintf("%s = list_append(if_not_exists(%s, %s), %s)", n, n, empty, ph))
	return nil
}

func (b *updateBuilder) expression() string {
	return "SET " + strings.Join(b.sets, ", ")
}

// conditionalUpdate runs the update guarded by attribute_exists(PK) AND cond.
// A failed condition on an existing item reports applied=false; a missing
// item reports ErrNotFound.
func (s *DynamoStore) conditionalUpdate(ctx context.Context, pk string, b *updateBuilder, cond string) (bool, error) {
	condition := "attribute_exists(PK)"
	if cond != "" {
		condition += " AND " + cond
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 itemKey(pk),
		UpdateExpression:                    aws.String(b.expression()),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            b.names,
		ExpressionAttributeValues:           b.values,
		ReturnValuesOnConditionCheckFailure: ddbtypes.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return true, nil
	}
	var ccf *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if ccf.Item == nil {
			return false, ErrNotFound
		}
		return false, nil
	}
	return false, fmt.Errorf("UpdateItem PK=%s: %w", pk, err)
}

func (s *DynamoStore) CreateJob(ctx context.Context, job *types.Job) (bool, error) {
	created, err := s.putIfAbsent(ctx, jobPK(job.JobID), job)
	if err != nil {
		return false, fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return created, nil
}

func (s *DynamoStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job types.Job
	found, err := s.getItem(ctx, jobPK(jobID), &job)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	return &job, nil
}

func (s *DynamoStore) TransitionJob(ctx context.Context, jobID string, t types.JobTransition) (bool, error) {
	// Build the target record in memory so the written attributes match
	// what Job.Apply produces for the embedded store.
	var next types.Job
	next.Apply(t)

	b := newUpdateBuilder()
	fields := []field{
		{"state", next.State},
		{"state_rank", next.StateRank},
		{"status", next.Status},
		{"message", next.Message},
		{"updated_at", next.UpdatedAt},
	}
	if next.ErrorCode != "" {
		fields = append(fields, field{"error_code", next.ErrorCode}, field{"error_detail", next.ErrorDetail})
	}
	if next.ImageID != "" {
		fields = append(fields, field{"image_id", next.ImageID})
	}
	if next.CompletedAt != nil {
		fields = append(fields, field{"completed_at", *next.CompletedAt})
	}
	if err := b.setAll(fields); err != nil {
		return false, err
	}

	rank, err := b.value(t.State.Rank())
	if err != nil {
		return false, err
	}
	applied, err := s.conditionalUpdate(ctx, jobPK(jobID), b, b.name("state_rank")+" < "+rank)
	if err != nil {
		return false, fmt.Errorf("transition job %s -> %s: %w", jobID, t.State, err)
	}
	if !applied {
		log.Debug().Str("job_id", jobID).Str("state", string(t.State)).Msg("Transition skipped, job already at or past state")
	}
	return applied, nil
}

func (s *DynamoStore) AppendJobAttempts(ctx context.Context, jobID string, attempts []types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	b := newUpdateBuilder()
	if err := b.appendList("attempts", attempts); err != nil {
		return err
	}
	if _, err := s.conditionalUpdate(ctx, jobPK(jobID), b, ""); err != nil {
		return fmt.Errorf("append attempts to job %s: %w", jobID, err)
	}
	return nil
}

func (s *DynamoStore) CreateImage(ctx context.Context, img *types.Image) (bool, error) {
	created, err := s.putIfAbsent(ctx, imagePK(img.ID), img)
	if err != nil {
		return false, fmt.Errorf("create image %s: %w", img.ID, err)
	}
	return created, nil
}

func (s *DynamoStore) GetImage(ctx context.Context, imageID string) (*types.Image, error) {
	var img types.Image
	found, err := s.getItem(ctx, imagePK(imageID), &img)
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", imageID, err)
	}
	if !found {
		return nil, nil
	}
	return &img, nil
}

func (s *DynamoStore) UpdateImage(ctx context.Context, imageID string, u types.ImageUpdate) (bool, error) {
	b := newUpdateBuilder()
	var cond string

	if u.ProcessingStatus != "" {
		next := types.ImageStatusRank(u.ProcessingStatus)
		if next < 0 {
			return false, nil
		}
		err := b.setAll([]field{
			{"processing_status", u.ProcessingStatus},
			{"processing_rank", next},
			{"metadata.processing_status", u.ProcessingStatus},
		})
		if err != nil {
			return false, err
		}
		rank, err := b.value(next)
		if err != nil {
			return false, err
		}
		op := " <= "
		if next == types.ImageStatusRank(types.ImageCompleted) {
			op = " < "
		}
		cond = b.name("processing_rank") + op + rank
	}
	if u.MedicalValidation != nil {
		if err := b.set("metadata.medical_validation", u.MedicalValidation); err != nil {
			return false, err
		}
	}
	if u.TumorAnalysis != nil {
		if err := b.set("metadata.tumor_analysis", u.TumorAnalysis); err != nil {
			return false, err
		}
	}
	if u.ProcessingCompleted != nil {
		if err := b.set("metadata.processing_completed", *u.ProcessingCompleted); err != nil {
			return false, err
		}
	}
	if u.ProcessingError != "" {
		if err := b.set("metadata.processing_error", u.ProcessingError); err != nil {
			return false, err
		}
	}
	if len(u.Attempts) > 0 {
		if err := b.appendList("metadata.attempts", u.Attempts); err != nil {
			return false, err
		}
	}
	if len(b.sets) == 0 {
		return true, nil
	}

	applied, err := s.conditionalUpdate(ctx, imagePK(imageID), b, cond)
	if err != nil {
		return false, fmt.Errorf("update image %s: %w", imageID, err)
	}
	return applied, nil
}
