package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// GetObjectAPI is the part of the S3 client the fetcher needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key URLs. Without a Client it builds one on
// first use from the default AWS credential chain; AWS_REGION and
// AWS_ENDPOINT_URL are honoured there.
type S3Fetcher struct {
	Client GetObjectAPI

	once    sync.Once
	client  GetObjectAPI
	initErr error
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return nil, 0, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			log.WithFields(log.Fields{
				"url":    rawURL,
				"status": re.HTTPStatusCode(),
			}).Debug("s3 request rejected")
			return nil, re.HTTPStatusCode(), nil
		}
		return nil, 0, fmt.Errorf("failed to get %s: %w", rawURL, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxBodySize+1))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if len(body) > maxBodySize {
		return nil, 0, fmt.Errorf("object %s exceeds %d bytes", rawURL, maxBodySize)
	}
	return body, http.StatusOK, nil
}

func (f *S3Fetcher) getClient(ctx context.Context) (GetObjectAPI, error) {
	if f.Client != nil {
		return f.Client, nil
	}
	f.once.Do(func() {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			f.initErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		f.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.BaseEndpoint != nil
		})
	})
	return f.client, f.initErr
}

func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("malformed s3 URL %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %s", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL must name a bucket and a key: %s", rawURL)
	}
	return u.Host, key, nil
}
