// Package archive uploads campaign artifacts to an S3-compatible object
// store.
//
// A Sink is a campaign.Observer: every finished run's artifact directory
// and, at the end, the result stream are queued and uploaded by a
// background worker. Object keys mirror the local layout below the result
// directory, under an optional prefix:
//
//	<prefix>/<stream>.csv
//	<prefix>/<stream>/<var>-<value>/run-<N>/experiment_results.json
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/steveyegge/campaign/internal/campaign"
)

// Config describes the object store.
type Config struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key" mapstructure:"secret_key"`
	Region    string `yaml:"region" toml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" toml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix" mapstructure:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" toml:"use_ssl" mapstructure:"use_ssl"`
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("archive endpoint is required")
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("archive bucket is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return errors.New("archive credentials are required")
	}
	return nil
}

// Client is the part of *minio.Client the sink uses.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewClient connects to the object store described by cfg.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// EnsureBucket creates the bucket when it does not exist.
func EnsureBucket(ctx context.Context, client Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// ObjectKey returns the key of local, a file below root.
func ObjectKey(prefix, root, local string) (string, error) {
	rel, err := filepath.Rel(root, local)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", local, root)
	}
	return path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel)), nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".log", ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

type upload struct {
	local string
	key   string
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Client Client
	Bucket string
	Prefix string
	Logger *log.Logger
}

// Sink uploads campaign artifacts in the background. Close must be called
// to wait for pending uploads.
type Sink struct {
	client Client
	bucket string
	prefix string
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan upload
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	statsMu  sync.Mutex
	uploaded int
	errs     []error
}

// NewSink starts the upload worker.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Client == nil {
		return nil, errors.New("archive client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan upload, 256),
	}
	s.wg.Add(1)
	go s.work()
	return s, nil
}

func (s *Sink) work() {
	defer s.wg.Done()
	for job := range s.jobs {
		err := s.put(job)
		s.statsMu.Lock()
		if err != nil {
			s.errs = append(s.errs, err)
		} else {
			s.uploaded++
		}
		s.statsMu.Unlock()
		if err != nil {
			s.logger.Printf("Warning: %v", err)
		}
	}
}

func (s *Sink) put(job upload) error {
	f, err := os.Open(job.local)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", job.local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", job.local, err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType(job.local)}
	if _, err := s.client.PutObject(s.ctx, s.bucket, job.key, f, info.Size(), opts); err != nil {
		return fmt.Errorf("failed to upload %s: %w", job.key, err)
	}
	return nil
}

func (s *Sink) enqueue(root, local string) {
	key, err := ObjectKey(s.prefix, root, local)
	if err != nil {
		s.logger.Printf("Warning: not archiving %s: %v", local, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.jobs <- upload{local: local, key: key}
}

// enqueueDir queues every regular file below dir.
func (s *Sink) enqueueDir(root, dir string) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			s.enqueue(root, p)
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("Warning: failed to walk %s: %v", dir, err)
	}
}

func (s *Sink) CampaignStarted(c *campaign.Campaign) {}

func (s *Sink) RunStarted(c *campaign.Campaign, r campaign.Run) {}

// RunFinished queues the artifact directory of an executed run.
func (s *Sink) RunFinished(c *campaign.Campaign, r campaign.Run) {
	if r.RecordDir == "" || r.Status == campaign.StatusSkipped {
		return
	}
	s.enqueueDir(filepath.Dir(c.ResultPath()), r.RecordDir)
}

// CampaignFinished queues the result stream.
func (s *Sink) CampaignFinished(c *campaign.Campaign, sum *campaign.Summary) {
	if _, err := os.Stat(c.ResultPath()); err != nil {
		s.logger.Printf("Warning: not archiving %s: %v", c.ResultPath(), err)
		return
	}
	s.enqueue(filepath.Dir(c.ResultPath()), c.ResultPath())
}

// Close waits for queued uploads and returns their errors joined.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if len(s.errs) > 0 {
		s.logger.Printf("Archived %d files to %s, %d failed", s.uploaded, s.bucket, len(s.errs))
	} else {
		s.logger.Printf("Archived %d files to %s", s.uploaded, s.bucket)
	}
	return errors.Join(s.errs...)
}

// Abort cancels in-flight uploads. Queued uploads fail immediately.
func (s *Sink) Abort() {
	s.cancel()
	_ = s.Close()
}

// Uploaded returns the number of files uploaded so far.
func (s *Sink) Uploaded() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.uploaded
}
