package dynamostore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

type fakeDynamo struct {
	dynamoAPI
	putIn    *dynamodb.PutItemInput
	putErr   error
	updateIn *dynamodb.UpdateItemInput
	updateFn func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	if f.updateFn != nil {
		return f.updateFn(in)
	}
	return &dynamodb.UpdateItemOutput{Attributes: in.Key}, nil
}

func TestPutBuildsConditionExpression(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{}
	s := &Store{client: api, table: "aegis"}

	item := store.Item{store.AttrPK: "INCIDENT#INC-1", store.AttrSK: "METADATA", "status": "OPEN"}
	if err := s.Put(context.Background(), item, store.IfNotExists()); err != nil {
		t.Fatalf("put: %v", err)
	}

	if got := aws.ToString(api.putIn.ConditionExpression); got != "attribute_not_exists(pk)" {
		t.Fatalf("condition = %q", got)
	}
	if aws.ToString(api.putIn.TableName) != "aegis" {
		t.Fatalf("table = %q", aws.ToString(api.putIn.TableName))
	}
}

func TestPutFieldEqualsCondition(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{}
	s := &Store{client: api, table: "aegis"}

	item := store.Item{store.AttrPK: "INCIDENT#INC-1", store.AttrSK: "METADATA"}
	if err := s.Put(context.Background(), item, store.IfFieldEquals("status", "OPEN")); err != nil {
		t.Fatalf("put: %v", err)
	}

	if got := aws.ToString(api.putIn.ConditionExpression); got != "#condf = :condv" {
		t.Fatalf("condition = %q", got)
	}
	if api.putIn.ExpressionAttributeNames["#condf"] != "status" {
		t.Fatalf("names = %v", api.putIn.ExpressionAttributeNames)
	}
	v, ok := api.putIn.ExpressionAttributeValues[":condv"].(*types.AttributeValueMemberS)
	if !ok || v.Value != "OPEN" {
		t.Fatalf("values = %v", api.putIn.ExpressionAttributeValues)
	}
}

func TestConditionalCheckFailureMapsToConditionFailed(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	s := &Store{client: api, table: "aegis"}

	item := store.Item{store.AttrPK: "INCIDENT#INC-1", store.AttrSK: "METADATA"}
	err := s.Put(context.Background(), item, store.IfNotExists())
	if !fault.IsConditionFailed(err) {
		t.Fatalf("error kind = %v, want condition failed", fault.KindOf(err))
	}
}

func TestUpdateAlwaysRequiresExistingItem(t *testing.T) {
	t.Parallel()

	api := &fakeDynamo{
		updateFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		},
	}
	s := &Store{client: api, table: "aegis"}

	// no caller condition: the implicit attribute_exists failure is NotFound
	_, err := s.Update(context.Background(), "INCIDENT#INC-1", "METADATA", map[string]any{"status": "CLOSED"}, nil)
	if !fault.IsNotFound(err) {
		t.Fatalf("error kind = %v, want not found", fault.KindOf(err))
	}
	if got := aws.ToString(api.updateIn.ConditionExpression); got != "attribute_exists(pk)" {
		t.Fatalf("condition = %q", got)
	}

	// caller condition: the failure is a condition conflict
	_, err = s.Update(context.Background(), "INCIDENT#INC-1", "METADATA",
		map[string]any{"status": "CLOSED"}, store.IfFieldEquals("status", "RESOLVED"))
	if !fault.IsConditionFailed(err) {
		t.Fatalf("error kind = %v, want condition failed", fault.KindOf(err))
	}
	if got := aws.ToString(api.updateIn.ConditionExpression); got != "attribute_exists(pk) AND #condf = :condv" {
		t.Fatalf("condition = %q", got)
	}
}

func TestStartKeyTokenRoundTrip(t *testing.T) {
	t.Parallel()

	lek := map[string]types.AttributeValue{
		store.AttrPK:     &types.AttributeValueMemberS{Value: "INCIDENT#INC-5"},
		store.AttrSK:     &types.AttributeValueMemberS{Value: "METADATA"},
		store.AttrGSI1PK: &types.AttributeValueMemberS{Value: "STATUS#OPEN"},
		store.AttrGSI1SK: &types.AttributeValueMemberS{Value: "SEVERITY#P2#INCIDENT#INC-5"},
	}
	token, err := encodeStartKey(lek)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := decodeStartKey(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := back[store.AttrGSI1SK].(*types.AttributeValueMemberS)
	if !ok || got.Value != "SEVERITY#P2#INCIDENT#INC-5" {
		t.Fatalf("round trip lost key: %v", back)
	}
}

func TestDecodeStartKeyRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := decodeStartKey("!!not-base64!!"); !fault.IsValidation(err) {
		t.Fatalf("error kind = %v, want validation", fault.KindOf(err))
	}
}
