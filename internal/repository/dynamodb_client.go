package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studio-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	defaultLockLease = 60 * time.Second
)

var errEmptySessionID = errors.New("repository: session id must not be empty")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding chat sessions. Each session is one
// partition with a META# item for the submit lock and one MSG# item per turn.
type Client struct {
	api       dynamodbAPI
	tableName string
	lease     time.Duration
	now       func() time.Time
}

// New creates a new repository Client. A sending lock older than lease is
// treated as abandoned; non-positive values use a 60s lease.
func New(api dynamodbAPI, tableName string, lease time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if lease <= 0 {
		lease = defaultLockLease
	}
	return &Client{api: api, tableName: tableName, lease: lease, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a session.
func convPK(sessionID string) string {
	return "CONV#" + sessionID
}

// msgSK returns the sort key for the turn at position seq.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

// ttlValue returns a Unix timestamp 30 days after now.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// BeginTurn takes the session lock and appends the user turn in one
// transaction. New sessions are seeded with the greeting turn. The returned
// lease is the META# version written here; FinishTurn only succeeds while the
// item still carries it.
func (c *Client) BeginTurn(ctx context.Context, sessionID string, user domain.ChatTurn) ([]domain.ChatTurn, string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, "", errEmptySessionID
	}
	now := c.now().UTC()

	meta, found, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("repository: BeginTurn: %w", err)
	}
	if found && meta.Status == domain.SessionSending && !c.lockExpired(meta, now) {
		return nil, "", domain.ErrSessionBusy
	}

	var prior []domain.ChatTurn
	var writes []types.TransactWriteItem
	next := domain.SessionMeta{
		PK:        convPK(sessionID),
		SK:        skMeta,
		SessionID: sessionID,
		Status:    domain.SessionSending,
		LockedAt:  now.Unix(),
		TTL:       ttlValue(now),
	}

	if found {
		prior, err = c.queryTurns(ctx, sessionID)
		if err != nil {
			return nil, "", fmt.Errorf("repository: BeginTurn: %w", err)
		}
		next.Turns = meta.Turns + 1
		next.Version = meta.Version + 1
		writes = append(writes, c.putMeta(next, aws.String("version = :version"), map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Version)},
		}))
		writes = append(writes, c.putTurn(NewTurnRecord(sessionID, meta.Turns, user, now)))
	} else {
		prior = domain.GreetingTranscript()
		greeting := prior[0]
		next.Turns = 2
		next.Version = 1
		writes = append(writes, c.putMeta(next, aws.String("attribute_not_exists(PK)"), nil))
		writes = append(writes, c.putTurn(NewTurnRecord(sessionID, 0, greeting, now)))
		writes = append(writes, c.putTurn(NewTurnRecord(sessionID, 1, user, now)))
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		if isConditionFailure(err) {
			return nil, "", domain.ErrSessionBusy
		}
		return nil, "", fmt.Errorf("repository: BeginTurn: %w", err)
	}
	return prior, strconv.Itoa(next.Version), nil
}

// FinishTurn appends the assistant reply and releases the lock held under
// lease. A turn whose lock was taken over yields domain.ErrLeaseLost and
// writes nothing.
func (c *Client) FinishTurn(ctx context.Context, sessionID, lease string, reply domain.ChatTurn) error {
	now := c.now().UTC()

	owned, err := strconv.Atoi(lease)
	if err != nil {
		return domain.ErrLeaseLost
	}
	meta, found, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: FinishTurn: %w", err)
	}
	if !found || meta.Status != domain.SessionSending {
		return domain.ErrSessionNotSending
	}
	if meta.Version != owned {
		return domain.ErrLeaseLost
	}

	next := meta
	next.Status = domain.SessionIdle
	next.Turns = meta.Turns + 1
	next.LockedAt = 0
	next.Version = meta.Version + 1
	next.TTL = ttlValue(now)

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			c.putMeta(next, aws.String("version = :version"), map[string]types.AttributeValue{
				":version": &types.AttributeValueMemberN{Value: strconv.Itoa(owned)},
			}),
			c.putTurn(NewTurnRecord(sessionID, meta.Turns, reply, now)),
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return domain.ErrLeaseLost
		}
		return fmt.Errorf("repository: FinishTurn: %w", err)
	}
	return nil
}

// GetTranscript returns every turn of a session in order. Unknown sessions
// yield the greeting alone.
func (c *Client) GetTranscript(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	turns, err := c.queryTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: GetTranscript: %w", err)
	}
	if len(turns) == 0 {
		return domain.GreetingTranscript(), nil
	}
	return turns, nil
}

func (c *Client) lockExpired(meta domain.SessionMeta, now time.Time) bool {
	return now.Sub(time.Unix(meta.LockedAt, 0)) >= c.lease
}

func (c *Client) getMeta(ctx context.Context, sessionID string) (domain.SessionMeta, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionMeta{}, false, fmt.Errorf("get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionMeta{}, false, nil
	}
	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.SessionMeta{}, false, fmt.Errorf("decode meta: %w", err)
	}
	meta.PK = convPK(sessionID)
	meta.SessionID = sessionID
	return meta, true, nil
}

// queryTurns reads all MSG# items of a session in sort key order.
func (c *Client) queryTurns(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var turns []domain.ChatTurn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query turns: %w", err)
		}
		for _, item := range out.Items {
			rec, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("decode turn: %w", err)
			}
			turns = append(turns, domain.ChatTurn{Role: rec.Role, Text: rec.Text})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *Client) putMeta(meta domain.SessionMeta, cond *string, values map[string]types.AttributeValue) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(c.tableName),
			Item:                      metaItem(meta),
			ConditionExpression:       cond,
			ExpressionAttributeValues: values,
		},
	}
}

func (c *Client) putTurn(rec domain.TurnRecord) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                turnItem(rec),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		},
	}
}

// NewTurnRecord constructs a TurnRecord with PK/SK/TTL set from sessionID and seq.
func NewTurnRecord(sessionID string, seq int, turn domain.ChatTurn, now time.Time) domain.TurnRecord {
	return domain.TurnRecord{
		PK:        convPK(sessionID),
		SK:        msgSK(seq),
		SessionID: sessionID,
		Seq:       seq,
		Role:      turn.Role,
		Text:      turn.Text,
		TTL:       ttlValue(now),
	}
}

func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}

func itemToTurn(item map[string]types.AttributeValue) (domain.TurnRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	roleName, err := strAttr(item, "role")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	role, ok := domain.NormalizeRole(roleName)
	if !ok {
		return domain.TurnRecord{}, fmt.Errorf("repository: unknown role %q", roleName)
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	seq, _ := intAttr(item, "seq") // allow missing

	return domain.TurnRecord{
		PK:   pk,
		SK:   sk,
		Seq:  seq,
		Role: role,
		Text: text,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	lockedAt, _ := intAttr(item, "lockedAt") // allow missing

	return domain.SessionMeta{
		SK:       skMeta,
		Status:   domain.SessionState(status),
		Turns:    turns,
		LockedAt: int64(lockedAt),
		Version:  version,
	}, nil
}

func turnItem(rec domain.TurnRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.PK},
		"SK":        &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId": &types.AttributeValueMemberS{Value: rec.SessionID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Seq)},
		"role":      &types.AttributeValueMemberS{Value: string(rec.Role)},
		"text":      &types.AttributeValueMemberS{Value: rec.Text},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TTL)},
	}
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: meta.PK},
		"SK":        &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId": &types.AttributeValueMemberS{Value: meta.SessionID},
		"status":    &types.AttributeValueMemberS{Value: string(meta.Status)},
		"turns":     &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		"lockedAt":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.LockedAt)},
		"version":   &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Version)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
