package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const remoteTimeout = 15 * time.Second

// RemoteStore keeps backup documents in a MinIO/S3 bucket.
type RemoteStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// RemoteObject describes one stored backup document.
type RemoteObject struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewRemoteStoreFromEnv initialises the remote store using MINIO_* environment
// variables. It returns nil when the endpoint is not configured.
func NewRemoteStoreFromEnv() (*RemoteStore, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("backup: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("backup: create bucket: %w", err)
		}
	}

	prefix := strings.Trim(strings.TrimSpace(os.Getenv("MINIO_BACKUP_PREFIX")), "/")
	if prefix == "" {
		prefix = "backups"
	}

	return &RemoteStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Configured reports whether pushes can reach a bucket.
func (s *RemoteStore) Configured() bool {
	return s != nil && s.client != nil
}

// Push uploads an encoded document and returns the object name.
func (s *RemoteStore) Push(ctx context.Context, document []byte) (string, error) {
	if !s.Configured() {
		return "", errors.New("backup: remote store not configured")
	}
	if len(document) == 0 {
		return "", errors.New("backup: empty document")
	}

	name := path.Join(s.prefix, fmt.Sprintf("outfits-%s.json", time.Now().UTC().Format("20060102T150405Z")))

	pushCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	reader := bytes.NewReader(document)
	_, err := s.client.PutObject(pushCtx, s.bucket, name, reader, int64(len(document)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("backup: push document: %w", err)
	}
	return name, nil
}

// List returns the stored documents, newest first.
func (s *RemoteStore) List(ctx context.Context) ([]RemoteObject, error) {
	if !s.Configured() {
		return nil, errors.New("backup: remote store not configured")
	}

	listCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	objects := make([]RemoteObject, 0)
	for object := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("backup: list documents: %w", object.Err)
		}
		objects = append(objects, RemoteObject{Name: object.Key, Size: object.Size, ModifiedAt: object.LastModified})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].ModifiedAt.After(objects[j].ModifiedAt)
	})
	return objects, nil
}

// Pull downloads a stored document by object name. Bare names resolve under
// the configured prefix.
func (s *RemoteStore) Pull(ctx context.Context, name string) ([]byte, error) {
	if !s.Configured() {
		return nil, errors.New("backup: remote store not configured")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, errors.New("backup: object name is required")
	}
	if !strings.HasPrefix(trimmed, s.prefix+"/") {
		trimmed = path.Join(s.prefix, trimmed)
	}

	pullCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	object, err := s.client.GetObject(pullCtx, s.bucket, trimmed, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("backup: pull document: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("backup: read document: %w", err)
	}
	return data, nil
}
