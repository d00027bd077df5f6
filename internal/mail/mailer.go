// Package mail sends workflow email actions through Amazon SES v2.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

var ErrNoRecipients = errors.New("email has no recipients")

type Message struct {
	To      []string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, message Message) (string, error)
}

type sendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client sendEmailAPI
	from   string
	logger *slog.Logger
}

// NewSESMailer loads credentials from the default AWS chain.
func NewSESMailer(ctx context.Context, region, from string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSESMailer(sesv2.NewFromConfig(cfg), from, logger), nil
}

func newSESMailer(client sendEmailAPI, from string, logger *slog.Logger) *SESMailer {
	if logger == nil {
		logger = slog.Default()
	}

	return &SESMailer{client: client, from: from, logger: logger}
}

// Send returns the SES message id.
func (m *SESMailer) Send(ctx context.Context, message Message) (string, error) {
	if len(message.To) == 0 {
		return "", ErrNoRecipients
	}

	output, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: message.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(message.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(message.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}

	messageID := aws.ToString(output.MessageId)
	m.logger.Info("email sent", "message_id", messageID, "recipients", len(message.To))

	return messageID, nil
}
