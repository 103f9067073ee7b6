package data

import (
	"context"
	"fmt"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/conf"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-kratos/kratos/v2/log"
)

// sqsAPI SendMessage 子集，便于替换
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type sqsQueue struct {
	client   sqsAPI
	queueURL string
	log      *log.Helper
}

func newSQSQueue(c *conf.Queue_SQS, logger log.Logger) (biz.Queue, func(), error) {
	if c == nil || c.QueueUrl == "" {
		return nil, nil, fmt.Errorf("sqs queue_url is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}
	if c.AccessKeyId != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyId, c.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})
	return &sqsQueue{client: client, queueURL: c.QueueUrl, log: log.NewHelper(logger)}, func() {}, nil
}

// Send 返回 SQS MessageId
func (q *sqsQueue) Send(ctx context.Context, msg *biz.QueueMessage) (string, error) {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", err
	}
	if out.MessageId == nil {
		return "", fmt.Errorf("sqs returned empty message id")
	}
	return *out.MessageId, nil
}
