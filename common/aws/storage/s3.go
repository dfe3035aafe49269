package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

var _ models.EvidenceStore = &S3Store{}

type S3Store struct {
	client *s3.Client
	logger models.Logger
	bucket string
}

func NewS3Store(logger models.Logger, s3Client *s3.Client) *S3Store {
	bucket := os.Getenv(common.Env_EvidenceBucket)
	if len(bucket) == 0 {
		bucket = common.ServiceName + "-" + os.Getenv(ecotrace.Env_Env) + "-evidence"
	}
	return &S3Store{s3Client, logger, bucket}
}

// Put uploads a photo under a fresh key and returns the reference to store on the request
func (s *S3Store) Put(ctx context.Context, contentType string, body io.Reader) (string, error) {
	key := evidenceKey(time.Now().UTC(), uuid.New())

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	putObjectIn := s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if _, err := s.client.PutObject(httpCtx, &putObjectIn); err != nil {
		s.logger.Errorf("storage: error storing evidence: %v", err)
		return "", err
	}
	s.logger.Debugf("storage: stored key: %s", key)
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func evidenceKey(ts time.Time, id uuid.UUID) string {
	return path.Join("evidence", ts.Format("2006/01/02"), id.String())
}
