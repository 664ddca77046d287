package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rulwatch/rulwatch/pkg/types"
	"github.com/rulwatch/rulwatch/trainer/internal/config"
)

const objectScheme = "s3://"

// Opener resolves a data location to a readable stream.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// NewOpener returns an Opener for plain file paths and, when an object store
// endpoint is configured, s3://bucket/key locations.
func NewOpener(cfg config.ObjectStoreConfig) (Opener, error) {
	o := &routingOpener{files: fileOpener{}}
	if cfg.Endpoint == "" {
		return o, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey(), cfg.SecretKey(), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: create object store client: %w", err)
	}
	o.objects = &objectOpener{client: client}
	return o, nil
}

type routingOpener struct {
	files   fileOpener
	objects *objectOpener
}

func (o *routingOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if strings.HasPrefix(location, objectScheme) {
		if o.objects == nil {
			return nil, fmt.Errorf("dataset: %q: no object store configured", location)
		}
		return o.objects.Open(ctx, location)
	}
	return o.files.Open(ctx, location)
}

type fileOpener struct{}

func (fileOpener) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %q: %w", path, err)
	}
	return f, nil
}

type objectOpener struct {
	client *minio.Client
}

func (o *objectOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := splitObjectLocation(location)
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before parsing starts.
	obj, err := o.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("dataset: get object %q: %w", location, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("dataset: stat object %q: %w", location, err)
	}
	return obj, nil
}

// splitObjectLocation parses s3://bucket/key.
func splitObjectLocation(location string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(location, objectScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("dataset: %q: want s3://bucket/key", location)
	}
	return bucket, key, nil
}

// Load opens and parses the three input tables named by cfg.
func Load(ctx context.Context, op Opener, cfg config.DataConfig) (train, test []types.Observation, truth []float64, err error) {
	if train, err = readObservationsAt(ctx, op, cfg.Train); err != nil {
		return nil, nil, nil, err
	}
	if test, err = readObservationsAt(ctx, op, cfg.Test); err != nil {
		return nil, nil, nil, err
	}
	rc, err := op.Open(ctx, cfg.Truth)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rc.Close()
	if truth, err = ReadTruth(rc); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", cfg.Truth, err)
	}
	return train, test, truth, nil
}

func readObservationsAt(ctx context.Context, op Opener, location string) ([]types.Observation, error) {
	rc, err := op.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	obs, err := ReadObservations(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return obs, nil
}
