// Package sqsqueue backs queue.Queue with Amazon SQS. Visibility, receive
// counting and dead-letter redrive are all queue-side configuration; this
// client only moves messages.
package sqsqueue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/queue"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue is an SQS-backed queue.Queue.
type Queue struct {
	client   sqsAPI
	queueURL string
	waitSecs int32
}

// New builds the AWS client from the default config chain. Receives use
// long polling with a 10s wait.
func New(ctx context.Context, queueURL, region string) (*Queue, error) {
	if queueURL == "" {
		return nil, fault.New(fault.KindValidation, "queue url required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Queue{client: sqs.NewFromConfig(cfg), queueURL: queueURL, waitSecs: 10}, nil
}

func (q *Queue) Send(ctx context.Context, body string) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "sqs send message")
	}
	return aws.ToString(out.MessageId), nil
}

func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	if max > 10 {
		max = 10 // SQS receive ceiling
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     q.waitSecs,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindExternal, err, "sqs receive message")
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, queue.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fault.Wrap(fault.KindExternal, err, "sqs delete message")
	}
	return nil
}
