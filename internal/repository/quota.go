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

	"mai-chat/internal/domain"
)

const (
	pkPrefixClient = "CLIENT#"
	skPrefixWindow = "WINDOW#"
	ttlGrace       = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by QuotaStore.
type dynamodbAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// QuotaStore counts chat requests per client in fixed time windows.
type QuotaStore struct {
	api       dynamodbAPI
	tableName string
	window    time.Duration
	now       func() time.Time
}

func New(api dynamodbAPI, tableName string, window time.Duration) (*QuotaStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if window <= 0 {
		return nil, errors.New("repository: window must be positive")
	}
	return &QuotaStore{api: api, tableName: tableName, window: window, now: time.Now}, nil
}

func clientPK(clientID string) string {
	return pkPrefixClient + clientID
}

func windowSK(start time.Time) string {
	return skPrefixWindow + start.UTC().Format(time.RFC3339)
}

func (s *QuotaStore) windowStart(t time.Time) time.Time {
	return t.UTC().Truncate(s.window)
}

// Increment atomically adds one request to the client's current window and
// returns the updated window.
func (s *QuotaStore) Increment(ctx context.Context, clientID string) (domain.QuotaWindow, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.QuotaWindow{}, errors.New("repository: client ID must not be empty")
	}
	start := s.windowStart(s.now())
	pk, sk := clientPK(clientID), windowSK(start)
	ttl := start.Add(s.window + ttlGrace).Unix()

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("ADD #count :one SET #client = :client, #ttl = if_not_exists(#ttl, :ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#count":  "count",
			"#client": "clientId",
			"#ttl":    "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":client": &types.AttributeValueMemberS{Value: clientID},
			":ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.QuotaWindow{}, fmt.Errorf("repository: Increment update item: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.QuotaWindow{}, errors.New("repository: Increment returned no attributes")
	}
	w, err := itemToWindow(out.Attributes)
	if err != nil {
		return domain.QuotaWindow{}, fmt.Errorf("repository: Increment decode: %w", err)
	}
	return w, nil
}

func itemToWindow(item map[string]types.AttributeValue) (domain.QuotaWindow, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.QuotaWindow{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.QuotaWindow{}, err
	}
	count, err := intAttr(item, "count")
	if err != nil {
		return domain.QuotaWindow{}, err
	}
	clientID, _ := strAttr(item, "clientId") // older items may lack it
	ttl, _ := intAttr(item, "ttl")

	return domain.QuotaWindow{
		PK:       pk,
		SK:       sk,
		ClientID: clientID,
		Count:    count,
		TTL:      int64(ttl),
	}, nil
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
