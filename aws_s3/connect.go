// Package aws_s3 is the S3-compatible backend (AWS S3, MinIO and the like): every key is an
// object in a bucket, under an optional prefix.
package aws_s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	// "http://127.0.0.1:9000", empty uses the AWS endpoint of Region.
	HostEndpointUrl string
	// "us-east-1"
	Region   string
	Username string
	Password string
	// UsePathStyle addresses buckets as endpoint/bucket, required by MinIO.
	UsePathStyle bool
}

// Connect returns an S3 client for the endpoint in config.
func Connect(config Config) *s3.Client {
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.NewFromConfig(aws.Config{Region: region}, func(o *s3.Options) {
		if config.HostEndpointUrl != "" {
			o.BaseEndpoint = aws.String(config.HostEndpointUrl)
		}
		if config.Username != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		}
		o.UsePathStyle = config.UsePathStyle
	})
	return client
}
