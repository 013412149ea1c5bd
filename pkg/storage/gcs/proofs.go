package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/gcp"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

const (
	defaultProbeTimeout = 5 * time.Second
	gsScheme            = "gs://"
)

var (
	// ErrProofNotFound means the handle does not point at a stored object.
	ErrProofNotFound = errors.New("payment proof object not found")
	// ErrInvalidProofHandle means the handle cannot name an object in the proof bucket.
	ErrInvalidProofHandle = errors.New("invalid payment proof handle")
)

// bucketHandle abstracts the bucket calls the resolver needs.
type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	ObjectAttrs(ctx context.Context, name string) (*storage.ObjectAttrs, error)
}

type realBucket struct{ bh *storage.BucketHandle }

func (r realBucket) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return r.bh.Attrs(ctx)
}

func (r realBucket) ObjectAttrs(ctx context.Context, name string) (*storage.ObjectAttrs, error) {
	return r.bh.Object(name).Attrs(ctx)
}

// ProofResolver confirms that an uploaded payment proof is readable before a
// subscription record is allowed to reference it. Uploading is owned by
// another service; this side only looks.
type ProofResolver struct {
	client  *storage.Client
	bucket  bucketHandle
	name    string
	timeout time.Duration
	logg    *logger.Logger
}

func NewProofResolver(ctx context.Context, cfg config.GCSConfig, gcpCfg config.GCPConfig, logg *logger.Logger) (*ProofResolver, error) {
	if strings.TrimSpace(cfg.ProofBucket) == "" {
		return nil, errors.New("gcs proof bucket is required")
	}
	client, err := storage.NewClient(ctx, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	resolver := newProofResolver(realBucket{bh: client.Bucket(cfg.ProofBucket)}, cfg.ProofBucket, cfg.ProbeTimeout, logg)
	resolver.client = client
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.ProofBucket), "gcs proof resolver initialized")
	}
	return resolver, nil
}

func newProofResolver(bucket bucketHandle, name string, timeout time.Duration, logg *logger.Logger) *ProofResolver {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &ProofResolver{bucket: bucket, name: name, timeout: timeout, logg: logg}
}

// Confirm returns nil when handle names a non-empty object in the proof
// bucket. ErrProofNotFound and ErrInvalidProofHandle are caller mistakes; any
// other error is an infrastructure failure.
func (r *ProofResolver) Confirm(ctx context.Context, handle string) error {
	object, err := r.objectName(handle)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attrs, err := r.bucket.ObjectAttrs(probeCtx, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrProofNotFound
		}
		return fmt.Errorf("reading proof attrs %q: %w", object, err)
	}
	if attrs == nil || attrs.Size == 0 {
		return ErrProofNotFound
	}
	return nil
}

// Ping verifies the proof bucket is reachable.
func (r *ProofResolver) Ping(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.bucket.Attrs(probeCtx); err != nil {
		return fmt.Errorf("gcs bucket %q: %w", r.name, err)
	}
	return nil
}

func (r *ProofResolver) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// objectName accepts either a bare object name or a gs:// URI for the proof bucket.
func (r *ProofResolver) objectName(handle string) (string, error) {
	h := strings.TrimSpace(handle)
	if h == "" {
		return "", ErrInvalidProofHandle
	}
	if strings.HasPrefix(h, gsScheme) {
		rest := strings.TrimPrefix(h, gsScheme)
		bucket, object, ok := strings.Cut(rest, "/")
		if !ok || bucket != r.name {
			return "", ErrInvalidProofHandle
		}
		h = object
	}
	h = strings.TrimPrefix(h, "/")
	if h == "" || strings.Contains(h, "..") {
		return "", ErrInvalidProofHandle
	}
	return h, nil
}

// TrustingResolver accepts every non-blank handle. It backs local sqlite runs
// where no bucket exists.
type TrustingResolver struct{}

func (TrustingResolver) Confirm(_ context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return ErrInvalidProofHandle
	}
	return nil
}

func (TrustingResolver) Ping(context.Context) error { return nil }
