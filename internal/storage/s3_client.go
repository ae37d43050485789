package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config carries the attachment bucket settings.
type S3Config struct {
	Region     string
	Bucket     string
	PresignTTL time.Duration
}

// Client signs short-lived upload and download URLs for message
// attachments. The bytes never pass through this process; clients
// talk to the bucket directly.
type Client struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &Client{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// PresignPut returns an upload URL for a new attachment, plus the
// object key the sender should reference in the message.
func (c *Client) PresignPut(ctx context.Context, senderID uuid.UUID, filename, contentType string) (string, string, error) {
	if c == nil {
		return "", "", errors.New("s3 client not initialized")
	}
	if filename == "" || contentType == "" {
		return "", "", errors.New("filename and content type are required")
	}

	key := buildObjectKey(senderID, filename)
	presigned, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(po *s3.PresignOptions) {
		if c.cfg.PresignTTL > 0 {
			po.Expires = c.cfg.PresignTTL
		}
	})
	if err != nil {
		return "", "", err
	}
	return presigned.URL, key, nil
}

// PresignGet returns a read URL for an existing attachment key.
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	if c == nil {
		return "", errors.New("s3 client not initialized")
	}
	if key == "" {
		return "", errors.New("object key is required")
	}

	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		if c.cfg.PresignTTL > 0 {
			po.Expires = c.cfg.PresignTTL
		}
	})
	if err != nil {
		return "", err
	}
	return presigned.URL, nil
}

func buildObjectKey(senderID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	base := fmt.Sprintf("attachments/%s/%s", senderID.String(), uuid.New().String())
	if ext == "" {
		return base
	}
	return base + ext
}
