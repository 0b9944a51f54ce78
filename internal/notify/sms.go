package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/linnemanlabs/aegis/internal/fault"
)

// smsBodyLimit keeps pages inside a single SMS segment.
const smsBodyLimit = 140

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSSender delivers notifications as SMS through SNS.
type SMSSender struct {
	client snsAPI
}

// NewSMSSender builds the AWS client from the default config chain.
func NewSMSSender(ctx context.Context, region string) (*SMSSender, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SMSSender{client: sns.NewFromConfig(cfg)}, nil
}

func (s *SMSSender) Send(ctx context.Context, req *Request) (string, error) {
	if req.Recipient == "" {
		return "", fault.New(fault.KindValidation, "sms recipient required")
	}
	text := req.Subject + ": " + req.Body
	// rune-count truncation so a multi-byte character is never split
	if utf8.RuneCountInString(text) > smsBodyLimit {
		runes := []rune(text)
		text = string(runes[:smsBodyLimit-3]) + "..."
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(req.Recipient),
		Message:     aws.String(text),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "sns publish sms")
	}
	return aws.ToString(out.MessageId), nil
}
