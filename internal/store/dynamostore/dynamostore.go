// Package dynamostore provides a DynamoDB implementation of store.Store.
// The change feed comes from the table's stream, not from this client, so
// Store deliberately does not implement store.FeedSource.
package dynamostore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

// batchWriteLimit is the BatchWriteItem request ceiling.
const batchWriteLimit = 25

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store persists items in a single DynamoDB table.
type Store struct {
	client dynamoAPI
	table  string
}

// New builds the AWS client from the default config chain.
func New(ctx context.Context, table, region string) (*Store, error) {
	if table == "" {
		return nil, fault.New(fault.KindValidation, "table name required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		store.AttrPK: &types.AttributeValueMemberS{Value: pk},
		store.AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// condExpr translates a store.Cond into a DynamoDB condition expression.
func condExpr(cond *store.Cond) (expr string, names map[string]string, values map[string]types.AttributeValue, err error) {
	if cond == nil {
		return "", nil, nil, nil
	}
	switch cond.Kind {
	case store.CondNotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", store.AttrPK), nil, nil, nil
	case store.CondExists:
		return fmt.Sprintf("attribute_exists(%s)", store.AttrPK), nil, nil, nil
	case store.CondFieldEquals:
		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal condition value: %w", err)
		}
		return "#condf = :condv",
			map[string]string{"#condf": cond.Field},
			map[string]types.AttributeValue{":condv": av},
			nil
	}
	return "", nil, nil, fault.Newf(fault.KindValidation, "unknown condition kind %d", cond.Kind)
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Put writes a full item, optionally guarded by cond.
func (s *Store) Put(ctx context.Context, item store.Item, cond *store.Cond) error {
	if item.PK() == "" || item.SK() == "" {
		return fault.New(fault.KindValidation, "item missing PK or SK")
	}
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	expr, names, values, err := condExpr(cond)
	if err != nil {
		return err
	}
	if expr != "" {
		in.ConditionExpression = aws.String(expr)
		if len(names) > 0 {
			in.ExpressionAttributeNames = names
		}
		if len(values) > 0 {
			in.ExpressionAttributeValues = values
		}
	}

	if _, err := s.client.PutItem(ctx, in); err != nil {
		if isConditionFailure(err) {
			return fault.Wrap(fault.KindConditionFailed, err, "condition not met")
		}
		return fault.Wrap(fault.KindExternal, err, "dynamodb put item")
	}
	return nil
}

// Get fetches a single item with a consistent read.
func (s *Store) Get(ctx context.Context, pk, sk string) (store.Item, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fault.Wrap(fault.KindExternal, err, "dynamodb get item")
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	var item map[string]any
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("unmarshal item: %w", err)
	}
	return store.Item(item), true, nil
}

// QueryByPartition returns the partition's rows in SK ascending order,
// following pagination internally.
func (s *Store) QueryByPartition(ctx context.Context, pk string, q store.Query) ([]store.Item, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk", store.AttrPK)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if q.SKPrefix != "" {
		in.KeyConditionExpression = aws.String(
			fmt.Sprintf("%s = :pk AND begins_with(%s, :skp)", store.AttrPK, store.AttrSK))
		in.ExpressionAttributeValues[":skp"] = &types.AttributeValueMemberS{Value: q.SKPrefix}
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}

	var out []store.Item
	for {
		resp, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fault.Wrap(fault.KindExternal, err, "dynamodb query")
		}
		for _, raw := range resp.Items {
			var item map[string]any
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			out = append(out, store.Item(item))
			if q.Limit > 0 && len(out) == q.Limit {
				return out, nil
			}
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func indexAttrs(index string) (pkAttr, skAttr string, err error) {
	switch index {
	case store.IndexStatus:
		return store.AttrGSI1PK, store.AttrGSI1SK, nil
	case store.IndexUser:
		return store.AttrGSI2PK, store.AttrGSI2SK, nil
	default:
		return "", "", fault.Newf(fault.KindValidation, "unknown index %q", index)
	}
}

// QueryIndex pages through a GSI. The continuation token wraps the
// LastEvaluatedKey the service returned.
func (s *Store) QueryIndex(ctx context.Context, index, pk string, q store.IndexQuery) (store.Page, error) {
	pkAttr, skAttr, err := indexAttrs(index)
	if err != nil {
		return store.Page{}, err
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk", pkAttr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	switch q.Match {
	case store.MatchEquals:
		in.KeyConditionExpression = aws.String(fmt.Sprintf("%s = :pk AND %s = :sk", pkAttr, skAttr))
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: q.SK}
	case store.MatchBeginsWith:
		in.KeyConditionExpression = aws.String(fmt.Sprintf("%s = :pk AND begins_with(%s, :sk)", pkAttr, skAttr))
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: q.SK}
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}
	if q.StartToken != "" {
		start, err := decodeStartKey(q.StartToken)
		if err != nil {
			return store.Page{}, err
		}
		in.ExclusiveStartKey = start
	}

	resp, err := s.client.Query(ctx, in)
	if err != nil {
		return store.Page{}, fault.Wrap(fault.KindExternal, err, "dynamodb query index")
	}

	var page store.Page
	for _, raw := range resp.Items {
		var item map[string]any
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return store.Page{}, fmt.Errorf("unmarshal item: %w", err)
		}
		page.Items = append(page.Items, store.Item(item))
	}
	if len(resp.LastEvaluatedKey) > 0 {
		token, err := encodeStartKey(resp.LastEvaluatedKey)
		if err != nil {
			return store.Page{}, err
		}
		page.NextToken = token
	}
	return page, nil
}

func encodeStartKey(lek map[string]types.AttributeValue) (string, error) {
	var plain map[string]string
	if err := attributevalue.UnmarshalMap(lek, &plain); err != nil {
		return "", fmt.Errorf("decode last evaluated key: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode continuation token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeStartKey(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "bad continuation token")
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "bad continuation token")
	}
	lek, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, fmt.Errorf("encode start key: %w", err)
	}
	return lek, nil
}

// Update merges changes into an existing item and returns the new image.
// The update never creates a missing item: attribute_exists is always part
// of the condition, and its failure maps to NotFound when no caller
// condition was supplied.
func (s *Store) Update(ctx context.Context, pk, sk string, changes map[string]any, cond *store.Cond) (store.Item, error) {
	if len(changes) == 0 {
		return nil, fault.New(fault.KindValidation, "no changes")
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	setExpr := ""
	i := 0
	for field, val := range changes {
		nameRef := fmt.Sprintf("#f%d", i)
		valueRef := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal change %s: %w", field, err)
		}
		names[nameRef] = field
		values[valueRef] = av
		if setExpr != "" {
			setExpr += ", "
		}
		setExpr += nameRef + " = " + valueRef
		i++
	}

	condition := fmt.Sprintf("attribute_exists(%s)", store.AttrPK)
	expr, condNames, condValues, err := condExpr(cond)
	if err != nil {
		return nil, err
	}
	if expr != "" {
		condition += " AND " + expr
		for k, v := range condNames {
			names[k] = v
		}
		for k, v := range condValues {
			values[k] = v
		}
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(pk, sk),
		UpdateExpression:          aws.String("SET " + setExpr),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailure(err) {
			if cond == nil {
				return nil, fault.Newf(fault.KindNotFound, "item %s/%s not found", pk, sk)
			}
			return nil, fault.Wrap(fault.KindConditionFailed, err, "condition not met")
		}
		return nil, fault.Wrap(fault.KindExternal, err, "dynamodb update item")
	}

	var item map[string]any
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal new image: %w", err)
	}
	return store.Item(item), nil
}

// BatchPut writes items in 25-request chunks, resubmitting unprocessed
// entries.
func (s *Store) BatchPut(ctx context.Context, items []store.Item) error {
	for start := 0; start < len(items); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(items))
		var reqs []types.WriteRequest
		for _, item := range items[start:end] {
			av, err := attributevalue.MarshalMap(map[string]any(item))
			if err != nil {
				return fmt.Errorf("marshal item: %w", err)
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}

		pending := map[string][]types.WriteRequest{s.table: reqs}
		for len(pending[s.table]) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fault.Wrap(fault.KindExternal, err, "dynamodb batch write")
			}
			pending = out.UnprocessedItems
			if len(pending[s.table]) == 0 {
				break
			}
		}
	}
	return nil
}

// Delete removes an item, optionally guarded by cond. Deleting an absent
// item without a condition is a no-op on the service side too.
func (s *Store) Delete(ctx context.Context, pk, sk string, cond *store.Cond) error {
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(pk, sk),
	}
	expr, names, values, err := condExpr(cond)
	if err != nil {
		return err
	}
	if expr != "" {
		in.ConditionExpression = aws.String(expr)
		if len(names) > 0 {
			in.ExpressionAttributeNames = names
		}
		if len(values) > 0 {
			in.ExpressionAttributeValues = values
		}
	}

	if _, err := s.client.DeleteItem(ctx, in); err != nil {
		if isConditionFailure(err) {
			return fault.Wrap(fault.KindConditionFailed, err, "condition not met")
		}
		return fault.Wrap(fault.KindExternal, err, "dynamodb delete item")
	}
	return nil
}
