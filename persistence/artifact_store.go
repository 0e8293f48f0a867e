package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lexcodex/codeforge/framework"
)

// DirArtifactStore keeps the artifact as plain files under a workspace
// directory, so generated projects can be opened directly.
type DirArtifactStore struct {
	root string
	mu   sync.RWMutex
}

// NewDirArtifactStore creates the workspace directory if needed.
func NewDirArtifactStore(root string) (*DirArtifactStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact workspace root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirArtifactStore{root: root}, nil
}

// Root returns the workspace directory.
func (s *DirArtifactStore) Root() string { return s.root }

// List returns every regular file in lexical path order. Hidden directories
// such as .git are skipped; hidden files are kept.
func (s *DirArtifactStore) List(ctx context.Context) ([]framework.ArtifactFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []framework.ArtifactFile
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		norm := framework.NormalizePath(filepath.ToSlash(rel))
		out = append(out, framework.ArtifactFile{Path: norm, Content: string(data), Language: framework.DetectLanguage(norm)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Upsert writes content to path, creating parent directories.
func (s *DirArtifactStore) Upsert(ctx context.Context, path, content, language string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	norm := framework.NormalizePath(path)
	if norm == "" {
		return &framework.InvalidPathError{Path: path}
	}
	full := filepath.Join(s.root, filepath.FromSlash(norm))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

// ClearAll removes every entry of the workspace but keeps the directory.
func (s *DirArtifactStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// S3Config configures S3ArtifactStore.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// S3ArtifactStore keeps the artifact as objects under a key prefix in an
// S3-compatible bucket.
type S3ArtifactStore struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
	initOnce   sync.Once
	initErr    error
}

// NewS3ArtifactStore validates cfg and builds the client. No request is made
// until the first operation.
func NewS3ArtifactStore(cfg S3Config) (*S3ArtifactStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3ArtifactStore{
		client:     client,
		bucketName: bucket,
		region:     region,
		prefix:     normalizePrefix(cfg.Prefix),
	}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *S3ArtifactStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3ArtifactStore) objectKey(path string) string {
	return s.prefix + path
}

// List downloads every object under the prefix in key order.
func (s *S3ArtifactStore) List(ctx context.Context) ([]framework.ArtifactFile, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key != "" {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	out := make([]framework.ArtifactFile, 0, len(keys))
	for _, key := range keys {
		data, err := s.get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		p := framework.NormalizePath(strings.TrimPrefix(key, s.prefix))
		if p == "" {
			continue
		}
		out = append(out, framework.ArtifactFile{Path: p, Content: string(data), Language: framework.DetectLanguage(p)})
	}
	return out, nil
}

func (s *S3ArtifactStore) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// Upsert writes one object.
func (s *S3ArtifactStore) Upsert(ctx context.Context, path, content, language string) error {
	norm := framework.NormalizePath(path)
	if norm == "" {
		return &framework.InvalidPathError{Path: path}
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if language == "" {
		language = framework.DetectLanguage(norm)
	}
	data := []byte(content)
	_, err := s.client.PutObject(ctx, s.bucketName, s.objectKey(norm), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: map[string]string{"language": language},
	})
	return err
}

// ClearAll deletes every object under the prefix.
func (s *S3ArtifactStore) ClearAll(ctx context.Context) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}
