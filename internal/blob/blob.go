// Package blob opens export files from a local directory or an S3 bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/khg9859/Eternal/internal/config"
)

// Driver identifies a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// Info describes one stored file. Key is relative to the opener's root.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Name returns the base name of the key.
func (i Info) Name() string { return path.Base(i.Key) }

// Opener lists and opens input files.
type Opener interface {
	Driver() Driver
	// List returns the files whose base name matches the glob, sorted by key.
	List(ctx context.Context, pattern string) ([]Info, error)
	// Open returns the content of one file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Open selects an Opener from the input configuration.
func Open(ctx context.Context, cfg config.InputConfig) (Opener, error) {
	switch Driver(strings.ToLower(cfg.Driver)) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Path)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.Path,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown input driver %s", cfg.Driver)
	}
}

// matchName reports whether a base name matches a glob, ignoring case.
func matchName(pattern, name string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}
