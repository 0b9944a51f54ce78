package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/linnemanlabs/aegis/internal/fault"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailSender delivers notifications over SES.
type EmailSender struct {
	client sesAPI
	from   string
}

// NewEmailSender builds the AWS client from the default config chain.
func NewEmailSender(ctx context.Context, from, region string) (*EmailSender, error) {
	if from == "" {
		return nil, fault.New(fault.KindValidation, "sender address required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EmailSender{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

func (s *EmailSender) Send(ctx context.Context, req *Request) (string, error) {
	if req.Recipient == "" {
		return "", fault.New(fault.KindValidation, "email recipient required")
	}
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{req.Recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(req.Subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(req.Body)},
				},
			},
		},
	})
	if err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "ses send email")
	}
	return aws.ToString(out.MessageId), nil
}
