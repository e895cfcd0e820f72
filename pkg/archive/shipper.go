package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/*
Shipper uploads archive files and store snapshots to object storage so an
operator can restore a mesh on a fresh host without the original disk.
Shipping is strictly best-effort and asynchronous: the live gateway never
waits on it.
*/
type Shipper struct {
	client *minio.Client
	bucket string
}

// ShipperConfig carries the object storage connection settings, usually
// sourced from the process configuration.
type ShipperConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

/*
NewShipper connects to the configured object store and ensures the target
bucket exists.
*/
func NewShipper(ctx context.Context, cfg ShipperConfig) (*Shipper, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Shipper{client: client, bucket: cfg.Bucket}, nil
}

/*
ShipFile uploads a local file under a timestamped object key and returns
the key.
*/
func (s *Shipper) ShipFile(ctx context.Context, prefix, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	key := fmt.Sprintf("%s/%s", prefix, time.Now().UTC().Format("20060102T150405Z"))
	_, err = s.client.PutObject(
		ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	)
	if err != nil {
		log.Error("failed to ship archive object", "error", err, "key", key)
		return "", err
	}

	log.Info("shipped archive object", "key", key, "bytes", len(data))
	return key, nil
}
