// Package blob selects the object store that backups are written to.
package blob

import (
	"context"
	"fmt"

	"github.com/alphadevx/alpha-sub000/internal/blob/core"
	"github.com/alphadevx/alpha-sub000/internal/config"
	"github.com/alphadevx/alpha-sub000/internal/infra/blob/fs"
	"github.com/alphadevx/alpha-sub000/internal/infra/blob/memory"
	"github.com/alphadevx/alpha-sub000/internal/infra/blob/s3"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Open builds the store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg config.Backup) (Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
