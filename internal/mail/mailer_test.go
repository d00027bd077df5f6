package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSendBuildsSimpleMessage(t *testing.T) {
	client := &fakeSES{}
	mailer := newSESMailer(client, "alerts@example.com", nil)

	id, err := mailer.Send(context.Background(), Message{
		To:      []string{"ops@example.com"},
		Subject: "Balance alert",
		Body:    "amount crossed 100",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "msg-1" {
		t.Fatalf("unexpected message id %q", id)
	}

	if aws.ToString(client.input.FromEmailAddress) != "alerts@example.com" {
		t.Fatal("sender not set")
	}
	if got := aws.ToString(client.input.Content.Simple.Subject.Data); got != "Balance alert" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestSendRequiresRecipients(t *testing.T) {
	mailer := newSESMailer(&fakeSES{}, "alerts@example.com", nil)

	if _, err := mailer.Send(context.Background(), Message{Subject: "x"}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestSendWrapsClientError(t *testing.T) {
	cause := errors.New("throttled")
	mailer := newSESMailer(&fakeSES{err: cause}, "alerts@example.com", nil)

	if _, err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}}); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
