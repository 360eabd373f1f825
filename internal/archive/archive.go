// Package archive keeps shareable roster snapshots in an S3-compatible
// bucket and hands out presigned download links.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rollcall/internal/roster"
)

// maxSnapshotSize bounds how much of an archived object is read back.
const maxSnapshotSize = 10 << 20

var ErrNotFound = errors.New("archived snapshot not found")

type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// Object describes one archived snapshot.
type Object struct {
	Key          string    `json:"key"`
	URL          string    `json:"url,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type Store struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
	now        func() time.Time
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, bucket: opts.Bucket, presignTTL: ttl, now: time.Now}, nil
}

// Save uploads the snapshot as the shareable JSON file and returns its key
// and a presigned download URL.
func (s *Store) Save(ctx context.Context, eventID string, snapshot roster.Snapshot) (Object, error) {
	data, err := roster.EncodeSnapshot(snapshot)
	if err != nil {
		return Object{}, fmt.Errorf("encode snapshot: %w", err)
	}

	key := ObjectKey(eventID, s.now())
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload snapshot %s: %w", key, err)
	}

	link, err := s.PresignedURL(ctx, key)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: link, Size: info.Size, LastModified: s.now()}, nil
}

// Load downloads and decodes an archived snapshot. It also reports how many
// invalid entries were dropped.
func (s *Store) Load(ctx context.Context, key string) (roster.Snapshot, int, error) {
	if err := ValidateKey(key); err != nil {
		return roster.Snapshot{}, 0, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return roster.Snapshot{}, 0, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxSnapshotSize))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return roster.Snapshot{}, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return roster.Snapshot{}, 0, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return roster.DecodeSnapshot(data)
}

// List returns the archived snapshots of eventID, newest first.
func (s *Store) List(ctx context.Context, eventID string) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    eventID + "/",
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list snapshots: %w", info.Err)
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

// PresignedURL returns a time-limited download link for key.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// ObjectKey names a snapshot archived at t; keys sort chronologically.
func ObjectKey(eventID string, t time.Time) string {
	return fmt.Sprintf("%s/%s-%s.json", eventID, t.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// ValidateKey rejects keys that could escape the archive layout.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || !strings.HasSuffix(key, ".json") {
		return &roster.MalformedInputError{Reason: "invalid archive key"}
	}
	return nil
}
