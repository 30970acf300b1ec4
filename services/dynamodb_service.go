package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"evolveme/config"
	"evolveme/models"
)

// DynamoStore keeps turns in one DynamoDB table keyed by UserID (hash) and
// Timestamp (range). Timestamps use timestampLayout so range conditions
// order them correctly.
type DynamoStore struct {
	db    *dynamodb.Client
	table string
}

func NewDynamoStore(ctx context.Context, cfg config.DynamoConfig) (*DynamoStore, error) {
	s := &DynamoStore{db: NewDynamoDBClient(ctx, cfg), table: cfg.Table}
	if err := s.ensureTableExists(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewDynamoDBClient builds a client for cfg. A configured endpoint means
// DynamoDB Local, which accepts any static credentials.
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoConfig) *dynamodb.Client {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts,
			awsconfig.WithEndpointResolverWithOptions(customResolver),
			awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{
					AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy",
				},
			}),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		// LoadDefaultConfig only fails on malformed shared config files.
		log.Printf("Falling back to empty AWS config: %v", err)
		awsCfg = aws.Config{Region: cfg.Region}
	}
	return dynamodb.NewFromConfig(awsCfg)
}

func (s *DynamoStore) ensureTableExists(ctx context.Context) error {
	_, err := s.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("UserID"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("Timestamp"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("UserID"),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String("Timestamp"),
				KeyType:       types.KeyTypeRange,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *DynamoStore) SaveTurn(ctx context.Context, turn models.Conversation) (models.Conversation, error) {
	turn, err := prepareTurn(turn, uuid.NewString)
	if err != nil {
		return models.Conversation{}, err
	}

	item, err := conversationToItem(turn)
	if err != nil {
		return models.Conversation{}, err
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#ts)"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "Timestamp",
		},
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("put turn: %w", err)
	}
	return turn, nil
}

func (s *DynamoStore) FindUserTurnsWithEmbedding(ctx context.Context, userID string) ([]models.Conversation, error) {
	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		FilterExpression:       aws.String("#role = :role AND attribute_exists(Embedding)"),
		ExpressionAttributeNames: map[string]string{
			"#role": "Role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":  &types.AttributeValueMemberS{Value: userID},
			":role": &types.AttributeValueMemberS{Value: models.RoleUser},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	turns := make([]models.Conversation, 0, len(items))
	for _, item := range items {
		turn, err := itemToConversation(item)
		if errors.Is(err, models.ErrInvalidEmbedding) {
			logSkippedEmbedding(err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if turn.Embedding != nil {
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

func (s *DynamoStore) FindNextAssistantTurn(ctx context.Context, userID string, after time.Time) (*models.Conversation, error) {
	// Limit applies before the filter, so page until the first assistant turn.
	paginator := dynamodb.NewQueryPaginator(s.db, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("UserID = :uid AND #ts > :ts"),
		FilterExpression:       aws.String("#role = :role"),
		ExpressionAttributeNames: map[string]string{
			"#ts":   "Timestamp",
			"#role": "Role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":  &types.AttributeValueMemberS{Value: userID},
			":ts":   &types.AttributeValueMemberS{Value: FormatTimestamp(after)},
			":role": &types.AttributeValueMemberS{Value: models.RoleAssistant},
		},
		ScanIndexForward: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query next assistant turn: %w", err)
		}
		if len(page.Items) == 0 {
			continue
		}
		turn, err := itemToConversation(page.Items[0])
		if err != nil {
			return nil, err
		}
		return &turn, nil
	}
	return nil, nil
}

func (s *DynamoStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(true), // 古い順に並び替え
	})
	if err != nil {
		return nil, err
	}

	conversations := make([]models.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := itemToConversation(item)
		if err != nil && !errors.Is(err, models.ErrInvalidEmbedding) {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func (s *DynamoStore) UpdateMessageFlag(ctx context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error {
	updateExpression, names, values := flagUpdateExpression(isLiked, isDisliked)
	if updateExpression == "" {
		return nil
	}
	values[":uid"] = &types.AttributeValueMemberS{Value: userID}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"UserID":    &types.AttributeValueMemberS{Value: userID},
			"Timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(timestamp)},
		},
		UpdateExpression:          aws.String(updateExpression),
		ConditionExpression:       aws.String("UserID = :uid"),
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return ErrTurnNotFound
	}
	if err != nil {
		return fmt.Errorf("update message flag: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindUserTurnsNeedingEmbedding(ctx context.Context) ([]models.Conversation, error) {
	var turns []models.Conversation
	paginator := dynamodb.NewScanPaginator(s.db, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("#role = :role"),
		ExpressionAttributeNames: map[string]string{
			"#role": "Role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":role": &types.AttributeValueMemberS{Value: models.RoleUser},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DynamoDB: %w", err)
		}
		for _, item := range page.Items {
			turn, err := itemToConversation(item)
			if err != nil && !errors.Is(err, models.ErrInvalidEmbedding) {
				return nil, err
			}
			if turn.Embedding == nil {
				turns = append(turns, turn)
			}
		}
	}
	return turns, nil
}

func (s *DynamoStore) UpdateEmbedding(ctx context.Context, turn models.Conversation, e models.Embedding) error {
	encoded, err := models.EncodeEmbedding(e)
	if err != nil {
		return err
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"UserID":    &types.AttributeValueMemberS{Value: turn.UserID},
			"Timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(turn.Timestamp)},
		},
		UpdateExpression: aws.String("SET Embedding = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": &types.AttributeValueMemberS{Value: encoded},
		},
	})
	if err != nil {
		return fmt.Errorf("update embedding of turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s *DynamoStore) Close() error {
	return nil
}

func (s *DynamoStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.db, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query conversations: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func flagUpdateExpression(isLiked, isDisliked *bool) (string, map[string]string, map[string]types.AttributeValue) {
	updateExpression := ""
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	if isLiked != nil {
		updateExpression += " #isLiked = :isLiked,"
		values[":isLiked"] = &types.AttributeValueMemberBOOL{Value: *isLiked}
		names["#isLiked"] = "isLiked"
	}
	if isDisliked != nil {
		updateExpression += " #isDisliked = :isDisliked,"
		values[":isDisliked"] = &types.AttributeValueMemberBOOL{Value: *isDisliked}
		names["#isDisliked"] = "isDisliked"
	}
	if updateExpression == "" {
		return "", nil, nil
	}
	// 末尾のカンマを削除
	return "SET" + updateExpression[:len(updateExpression)-1], names, values
}

func conversationToItem(turn models.Conversation) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"ID":        &types.AttributeValueMemberS{Value: turn.ID},
		"UserID":    &types.AttributeValueMemberS{Value: turn.UserID},
		"Role":      &types.AttributeValueMemberS{Value: turn.Role},
		"Content":   &types.AttributeValueMemberS{Value: turn.Content},
		"Timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(turn.Timestamp)},
	}
	if turn.Embedding != nil {
		encoded, err := models.EncodeEmbedding(*turn.Embedding)
		if err != nil {
			return nil, err
		}
		item["Embedding"] = &types.AttributeValueMemberS{Value: encoded}
	}
	if turn.IsLiked != nil {
		item["isLiked"] = &types.AttributeValueMemberBOOL{Value: *turn.IsLiked}
	}
	if turn.IsDisliked != nil {
		item["isDisliked"] = &types.AttributeValueMemberBOOL{Value: *turn.IsDisliked}
	}
	return item, nil
}

// itemToConversation decodes an item. An unreadable embedding yields the turn
// without embedding together with an error wrapping models.ErrInvalidEmbedding.
func itemToConversation(item map[string]types.AttributeValue) (models.Conversation, error) {
	conv := models.Conversation{
		ID:      stringAttr(item, "ID"),
		UserID:  stringAttr(item, "UserID"),
		Role:    stringAttr(item, "Role"),
		Content: stringAttr(item, "Content"),
	}
	timestamp, err := ParseTimestamp(stringAttr(item, "Timestamp"))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("turn %s: parse timestamp: %w", conv.ID, err)
	}
	conv.Timestamp = timestamp
	conv.IsLiked = boolAttr(item, "isLiked")
	conv.IsDisliked = boolAttr(item, "isDisliked")

	embedding, err := decodeStoredEmbedding(conv.ID, stringAttr(item, "Embedding"))
	if err != nil {
		return conv, err
	}
	conv.Embedding = embedding
	return conv, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func boolAttr(item map[string]types.AttributeValue, key string) *bool {
	if v, ok := item[key].(*types.AttributeValueMemberBOOL); ok {
		b := v.Value
		return &b
	}
	return nil
}
