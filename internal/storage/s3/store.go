// Package s3 persists board snapshots as JSON objects in S3-compatible
// object storage.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
	"github.com/dyluth/easel/pkg/board"
)

// Config describes the bucket holding board snapshots.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Insecure  bool
}

// Store implements board.Store on top of minio-go.
type Store struct {
	client *minio.Client
	cfg    Config
	logger pslog.Logger
}

// New connects to the configured endpoint. Static credentials are used when
// supplied, otherwise the usual AWS/MinIO environment chain.
func New(cfg Config, logger pslog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3: endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{
		client: client,
		cfg:    cfg,
		logger: loggingutil.WithSubsystem(logger, "board.s3"),
	}, nil
}

func (s *Store) objectKey(name string) string {
	key := url.PathEscape(name) + ".json"
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + key
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3: bucket exists: %w", err)
	}
	if !ok {
		return fmt.Errorf("s3: bucket %q does not exist", s.cfg.Bucket)
	}
	return nil
}

func (s *Store) readSnapshot(ctx context.Context, name string) (board.Snapshot, error) {
	object := s.objectKey(name)
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return board.Snapshot{Name: name}, nil
		}
		return board.Snapshot{}, fmt.Errorf("s3: get board: %w", err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return board.Snapshot{Name: name}, nil
		}
		return board.Snapshot{}, fmt.Errorf("s3: read board: %w", err)
	}
	var snap board.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return board.Snapshot{}, fmt.Errorf("s3: decode board %q: %w", name, err)
	}
	snap.Name = name
	return snap, nil
}

// Load reads the snapshot of name; a missing object is an empty board.
func (s *Store) Load(ctx context.Context, name string) (*board.Board, error) {
	snap, err := s.readSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("board.s3.loaded", "board", name, "objects", len(snap.Objects))
	return board.FromSnapshot(snap), nil
}

// Save writes the snapshot of b, replacing any previous object.
func (s *Store) Save(ctx context.Context, b *board.Board) error {
	payload, err := json.Marshal(b.Snapshot())
	if err != nil {
		return fmt.Errorf("s3: encode board %q: %w", b.Name(), err)
	}
	object := s.objectKey(b.Name())
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, object, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("s3: put board: %w", err)
	}
	s.logger.Debug("board.s3.saved", "board", b.Name(), "object", object, "bytes", len(payload))
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}
