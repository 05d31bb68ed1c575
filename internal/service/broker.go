package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autocoder/progexec/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/nats-io/nats.go"
)

// NATSUploader publishes JSON reports on a NATS subject.
type NATSUploader struct {
	nc      *nats.Conn
	subject string
}

func NewNATSUploader(url, subject string) (*NATSUploader, error) {
	if subject == "" {
		return nil, errors.New("nats subject is empty")
	}
	nc, err := nats.Connect(url, nats.Name("progexec"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	return &NATSUploader{nc: nc, subject: subject}, nil
}

func (u *NATSUploader) Upload(ctx context.Context, report model.Report) error {
	if u.nc == nil {
		return errors.New("nats connection already closed")
	}
	raw, err := encodeJSON(report)
	if err != nil {
		return err
	}
	if err := u.nc.Publish(u.subject, raw); err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}
	if err := u.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing nats connection: %w", err)
	}
	slog.DebugContext(ctx, "report published", "subject", u.subject)
	return nil
}

func (u *NATSUploader) Close() error {
	if u.nc == nil {
		return errors.New("uploader already closed")
	}
	err := u.nc.Drain()
	u.nc = nil
	return err
}

// SQSAPI is the part of the SQS client used by SQSUploader.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSUploader sends JSON reports to an SQS queue.
type SQSUploader struct {
	client   SQSAPI
	queueURL string
}

// NewSQSUploader loads the default AWS configuration. An empty region keeps
// the one from the environment.
func NewSQSUploader(ctx context.Context, queueURL, region string) (*SQSUploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewSQSUploaderWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

func NewSQSUploaderWithClient(client SQSAPI, queueURL string) *SQSUploader {
	return &SQSUploader{client: client, queueURL: queueURL}
}

func (u *SQSUploader) Upload(ctx context.Context, report model.Report) error {
	raw, err := encodeJSON(report)
	if err != nil {
		return err
	}
	out, err := u.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(u.queueURL),
		MessageBody: aws.String(string(raw)),
	})
	if err != nil {
		return fmt.Errorf("sending report to sqs: %w", err)
	}
	slog.DebugContext(ctx, "report queued", "message_id", aws.ToString(out.MessageId))
	return nil
}
