// Package images locates the overview and crop images of a read on the
// shared image volume.
package images

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/storage"
)

// ErrNotFound is returned when either image of a read is unavailable.
var ErrNotFound = stderrors.New("images not found")

// Lister returns the image records attached to a read.
type Lister interface {
	FetchImages(ctx context.Context, readID string) ([]storage.ImageRecord, error)
}

// Pair holds the resolved image paths of one read.
type Pair struct {
	OverviewPath string
	CropPath     string
}

// Resolver joins image identifiers onto the configured base directory.
type Resolver struct {
	basePath string
	log      zerolog.Logger
}

func NewResolver(basePath string, log zerolog.Logger) *Resolver {
	return &Resolver{basePath: basePath, log: log}
}

// Resolve returns the image pair for readID. Missing records or files yield
// an error wrapping ErrNotFound; the images are written out-of-band, so the
// caller drops the read instead of retrying. Database errors are returned
// unwrapped so the poller treats them as connectivity failures.
func (r *Resolver) Resolve(ctx context.Context, lister Lister, readID string) (Pair, error) {
	records, err := lister.FetchImages(ctx, readID)
	if err != nil {
		return Pair{}, err
	}

	var pair Pair
	for _, rec := range records {
		switch rec.PlateImageType {
		case storage.OverviewImageType:
			pair.OverviewPath = filepath.Join(r.basePath, rec.ImageID)
		case storage.CropImageType:
			pair.CropPath = filepath.Join(r.basePath, rec.ImageID)
		}
	}

	r.log.Debug().
		Str("read_id", readID).
		Str("overview", pair.OverviewPath).
		Str("crop", pair.CropPath).
		Msg("processing images")

	for _, img := range []struct {
		role string
		path string
	}{{"overview", pair.OverviewPath}, {"crop", pair.CropPath}} {
		if img.path == "" {
			return Pair{}, r.missing(errors.NewImageMissingError(readID, img.role, ""))
		}
		if !isFile(img.path) {
			return Pair{}, r.missing(errors.NewImageMissingError(readID, img.role, img.path))
		}
	}

	return pair, nil
}

func (r *Resolver) missing(pe *errors.PipelineError) error {
	r.log.Warn().Fields(pe.ToMap()).Msg(pe.Message)
	return fmt.Errorf("%w: %w", ErrNotFound, pe)
}

// isFile reports whether path is a readable regular file.
func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
