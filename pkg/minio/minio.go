package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// ObjectStorageI is the contract toward the media bucket: presigned upload
// and download URLs, object IO for the clip cutter and the vector-output
// reader, and the creation-event stream feeding the landing watcher.
type ObjectStorageI interface {
	Bucket() string
	GetPresignedURLForUpload(ctx context.Context, objectKey string, filename string, contentType string, expiration time.Duration) (*url.URL, error)
	GetPresignedURLForDownload(ctx context.Context, objectKey string, filename string, contentType string, expiration time.Duration) (*url.URL, error)
	GetFileReader(ctx context.Context, objectKey string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, objectKey string, content []byte, contentType string) error
	GetFileMetadata(ctx context.Context, objectKey string) (*minio.ObjectInfo, error)
	ListFilePathsWithPrefix(ctx context.Context, prefix string) ([]string, error)
	ListenObjectCreated(ctx context.Context, prefix string) <-chan types.ObjectRef
}

type objectStorage struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewMinioClientAndInitBucket connects to MinIO and creates the media bucket
// if it doesn't exist.
func NewMinioClientAndInitBucket(ctx context.Context, cfg *config.MinioConfig, log *zap.Logger) (ObjectStorageI, error) {
	log = log.With(
		zap.String("host:port", cfg.Host+":"+cfg.Port),
		zap.String("user", cfg.User),
	)

	client, err := minio.New(cfg.Host+":"+cfg.Port, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.User, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		log.Error("cannot connect to minio", zap.Error(err))
		return nil, fmt.Errorf("connecting to MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("checking bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
		log.Info("Successfully created bucket", zap.String("bucket", cfg.BucketName))
	} else {
		log.Info("Bucket already exists", zap.String("bucket", cfg.BucketName))
	}

	return &objectStorage{client: client, bucket: cfg.BucketName, log: log}, nil
}

func (m *objectStorage) Bucket() string {
	return m.bucket
}

// GetPresignedURLForUpload generates a presigned PUT URL for the given object
// key, valid only for that exact key and the declared content type. The
// caller is responsible for constraining the key to the ingest prefix.
func (m *objectStorage) GetPresignedURLForUpload(ctx context.Context, objectKey string, filename string, contentType string, expiration time.Duration) (*url.URL, error) {
	// check if the expiration is within the range of 1sec to 7 days.
	if expiration > time.Hour*24*7 {
		return nil, errors.New("expiration time must be within 1sec to 7 days")
	}

	// The original filename travels as object metadata so it survives the
	// key sanitization.
	reqParams := url.Values{}
	reqParams.Set("x-amz-meta-original-filename", filename)

	// Signing the Content-Type header makes the PUT fail for any other type.
	extraHeaders := http.Header{}
	extraHeaders.Set("Content-Type", contentType)

	presignedURL, err := m.client.PresignHeader(
		ctx,
		http.MethodPut,
		m.bucket,
		objectKey,
		expiration,
		reqParams,
		extraHeaders,
	)
	if err != nil {
		m.log.Error("Failed to make presigned URL for upload", zap.Error(err))
		return nil, err
	}

	return presignedURL, nil
}

// GetPresignedURLForDownload generates a public presigned GET URL with
// Content-Disposition and Content-Type response headers, so the clip plays
// inline in any client without special headers.
func (m *objectStorage) GetPresignedURLForDownload(ctx context.Context, objectKey string, filename string, contentType string, expiration time.Duration) (*url.URL, error) {
	if expiration > time.Hour*24*7 {
		return nil, errors.New("expiration time must be within 1sec to 7 days")
	}

	reqParams := url.Values{}
	reqParams.Set("response-content-disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	reqParams.Set("response-content-type", contentType)

	presignedURL, err := m.client.PresignedGetObject(ctx, m.bucket, objectKey, expiration, reqParams)
	if err != nil {
		m.log.Error("Failed to generate presigned URL",
			zap.String("objectKey", objectKey),
			zap.Error(err))
		return nil, err
	}

	return presignedURL, nil
}

// GetFileReader streams an object. The caller must close the reader.
func (m *objectStorage) GetFileReader(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", objectKey, err)
	}
	return object, nil
}

// UploadFile writes content to the bucket, retrying with a fresh reader on
// each attempt.
func (m *objectStorage) UploadFile(ctx context.Context, objectKey string, content []byte, contentType string) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		contentReader := bytes.NewReader(content)
		_, err = m.client.PutObject(ctx, m.bucket, objectKey, contentReader, int64(len(content)),
			minio.PutObjectOptions{ContentType: contentType})
		if err == nil {
			return nil
		}
		m.log.Error("Failed to upload file to MinIO, retrying...",
			zap.String("objectKey", objectKey), zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return fmt.Errorf("uploading %s after 3 attempts: %w", objectKey, err)
}

func (m *objectStorage) GetFileMetadata(ctx context.Context, objectKey string) (*minio.ObjectInfo, error) {
	object, err := m.client.StatObject(ctx, m.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}
	return &object, nil
}

func (m *objectStorage) ListFilePathsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	objectCh := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var filePaths []string
	for object := range objectCh {
		if object.Err != nil {
			m.log.Error("Failed to list object from MinIO", zap.Error(object.Err))
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		filePaths = append(filePaths, object.Key)
	}

	return filePaths, nil
}

// ListenObjectCreated subscribes to bucket notifications for object-creation
// events under the given prefix. The returned channel closes when ctx is
// cancelled or the notification stream ends; callers are expected to
// resubscribe with backoff.
func (m *objectStorage) ListenObjectCreated(ctx context.Context, prefix string) <-chan types.ObjectRef {
	out := make(chan types.ObjectRef)

	go func() {
		defer close(out)
		events := m.client.ListenBucketNotification(ctx, m.bucket, prefix, "",
			[]string{string(notification.ObjectCreatedAll)})
		for info := range events {
			if info.Err != nil {
				m.log.Error("bucket notification stream error", zap.Error(info.Err))
				return
			}
			for _, record := range info.Records {
				ref, err := objectRefFromRecord(record)
				if err != nil {
					m.log.Error("skipping undecodable notification record", zap.Error(err))
					continue
				}
				select {
				case out <- ref:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// objectRefFromRecord maps one notification record to an ObjectRef. Object
// keys arrive URL-encoded per the S3 event contract, so "my video.mp4" comes
// in as "my+video.mp4" and must be decoded before any GetObject call.
func objectRefFromRecord(record notification.Event) (types.ObjectRef, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return types.ObjectRef{}, fmt.Errorf("decoding object key %q: %w", record.S3.Object.Key, err)
	}
	return types.ObjectRef{Bucket: record.S3.Bucket.Name, Key: key}, nil
}
