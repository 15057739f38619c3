package images

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/storage"
)

type fakeLister struct {
	records map[string][]storage.ImageRecord
	err     error
}

func (f fakeLister) FetchImages(_ context.Context, readID string) ([]storage.ImageRecord, error) {
	return f.records[readID], f.err
}

func touch(c *qt.C, dir, name string) {
	c.Assert(os.WriteFile(filepath.Join(dir, name), []byte("jpeg"), 0o644), qt.IsNil)
}

func TestResolve(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	touch(c, dir, "1001")
	touch(c, dir, "1002")

	lister := fakeLister{records: map[string][]storage.ImageRecord{
		"7": {
			{ImageID: "1001", PlateImageType: storage.OverviewImageType},
			{ImageID: "1002", PlateImageType: storage.CropImageType},
			{ImageID: "1003", PlateImageType: 9},
		},
	}}

	pair, err := NewResolver(dir, zerolog.Nop()).Resolve(context.Background(), lister, "7")
	c.Assert(err, qt.IsNil)
	c.Check(pair, qt.Equals, Pair{
		OverviewPath: filepath.Join(dir, "1001"),
		CropPath:     filepath.Join(dir, "1002"),
	})
}

func TestResolveCropMissingOnDisk(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	touch(c, dir, "1001")

	lister := fakeLister{records: map[string][]storage.ImageRecord{
		"7": {
			{ImageID: "1001", PlateImageType: storage.OverviewImageType},
			{ImageID: "1002", PlateImageType: storage.CropImageType},
		},
	}}

	_, err := NewResolver(dir, zerolog.Nop()).Resolve(context.Background(), lister, "7")
	c.Assert(stderrors.Is(err, ErrNotFound), qt.IsTrue)
	c.Check(errors.IsCode(err, errors.ErrorImageMissing), qt.IsTrue)
	c.Check(err, qt.ErrorMatches, `.*Unable to find crop image .*1002 on disk.*`)
}

func TestResolveRecordMissing(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	touch(c, dir, "1002")

	lister := fakeLister{records: map[string][]storage.ImageRecord{
		"7": {{ImageID: "1002", PlateImageType: storage.CropImageType}},
	}}

	_, err := NewResolver(dir, zerolog.Nop()).Resolve(context.Background(), lister, "7")
	c.Assert(stderrors.Is(err, ErrNotFound), qt.IsTrue)
	c.Check(err, qt.ErrorMatches, `.*No overview image recorded for read.*`)
}

func TestResolveDirectoryIsNotAnImage(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	touch(c, dir, "1001")
	c.Assert(os.Mkdir(filepath.Join(dir, "1002"), 0o755), qt.IsNil)

	lister := fakeLister{records: map[string][]storage.ImageRecord{
		"7": {
			{ImageID: "1001", PlateImageType: storage.OverviewImageType},
			{ImageID: "1002", PlateImageType: storage.CropImageType},
		},
	}}

	_, err := NewResolver(dir, zerolog.Nop()).Resolve(context.Background(), lister, "7")
	c.Check(stderrors.Is(err, ErrNotFound), qt.IsTrue)
}

func TestResolvePassesDatabaseErrors(t *testing.T) {
	c := qt.New(t)
	dbErr := stderrors.New("connection reset")

	_, err := NewResolver(t.TempDir(), zerolog.Nop()).Resolve(context.Background(), fakeLister{err: dbErr}, "7")
	c.Assert(err, qt.Equals, dbErr)
	c.Check(stderrors.Is(err, ErrNotFound), qt.IsFalse)
}
