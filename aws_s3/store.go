package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sharedcode/cloudkvs/kvs"
)

// Objects bigger than this are sent as multipart uploads.
const largeObjectMinSize = 10 * 1024 * 1024

// Store keeps each key as an object named prefix+key in a bucket.
type Store struct {
	kvs.Base
	client     *s3.Client
	bucketName string
	prefix     string
}

// NewStore returns a store over bucketName. The bucket must exist.
func NewStore(id string, client *s3.Client, bucketName string, prefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 store %s: client can't be nil", id)
	}
	if bucketName == "" {
		return nil, fmt.Errorf("s3 store %s: bucket name is required", id)
	}
	return &Store{
		Base:       kvs.NewBase(id, true, 0),
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
	}, nil
}

func (s *Store) objectName(key string) string {
	return s.prefix + key
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if len(value) > largeObjectMinSize {
		uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
			u.PartSize = largeObjectMinSize
		})
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucketName),
			Key:    aws.String(s.objectName(key)),
			Body:   bytes.NewReader(value),
		})
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(s.objectName(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) (bool, []byte, error) {
	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = largeObjectMinSize
	})
	buffer := manager.NewWriteAtBuffer([]byte{})
	_, err := downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectName(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, buffer.Bytes(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	// S3 deletes of missing objects succeed.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectName(key)),
	})
	return err
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.eachObject(ctx, func(o types.Object) {
		keys = append(keys, strings.TrimPrefix(aws.ToString(o.Key), s.prefix))
	})
	return keys, err
}

// BytesUsed sums key and object sizes of every object under the prefix.
func (s *Store) BytesUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.eachObject(ctx, func(o types.Object) {
		total += int64(len(aws.ToString(o.Key))-len(s.prefix)) + aws.ToInt64(o.Size)
	})
	return total, err
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) eachObject(ctx context.Context, fn func(types.Object)) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing bucket %s failed: %w", s.bucketName, err)
		}
		for _, o := range page.Contents {
			fn(o)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
