package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/abevier/go-sqs/gosqs"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

var _ models.QueuePublisher = &Publisher{}

const maxLinger = 250 * time.Millisecond
const messageRetention = 4 * 24 * time.Hour

type Publisher struct {
	queueType models.QueueType
	queueUrl  string
	publisher *gosqs.SQSPublisher
}

// NewPublisher creates the queue if it didn't already exist and returns a batching publisher for it
func NewPublisher(ctx context.Context, queueType models.QueueType, sqsClient *sqs.Client) (*Publisher, error) {
	queueUrl, err := CreateQueue(ctx, queueType, sqsClient)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		queueType,
		queueUrl,
		gosqs.NewPublisher(
			sqsClient,
			queueUrl,
			maxLinger,
		),
	}, nil
}

func (p Publisher) GetUrl() string {
	return p.queueUrl
}

func (p Publisher) SendMessage(ctx context.Context, event any) (string, error) {
	if eventBody, err := json.Marshal(event); err != nil {
		return "", err
	} else if msgId, err := p.publisher.SendMessage(ctx, string(eventBody)); err != nil {
		return "", err
	} else {
		return msgId, nil
	}
}

func CreateQueue(ctx context.Context, queueType models.QueueType, sqsClient *sqs.Client) (string, error) {
	createQueueIn := sqs.CreateQueueInput{
		QueueName: aws.String(queueName(queueType)),
		Attributes: map[string]string{
			string(types.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(int(messageRetention.Seconds())),
		},
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if createQueueOut, err := sqsClient.CreateQueue(httpCtx, &createQueueIn); err != nil {
		return "", err
	} else {
		return *createQueueOut.QueueUrl, nil
	}
}

func queueName(queueType models.QueueType) string {
	name := fmt.Sprintf("%s-%s-%s", common.ServiceName, os.Getenv(ecotrace.Env_Env), string(queueType))
	if suffix := os.Getenv(common.Env_EventQueueSuffix); len(suffix) > 0 {
		name += "-" + suffix
	}
	return name
}
