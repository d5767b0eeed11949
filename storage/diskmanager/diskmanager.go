// Package diskmanager owns the single OS file backing one Buffer Pool and
// performs the raw, page-granular ReadAt/WriteAt against it. It has no
// notion of caching, pinning, or LRU — that is the Buffer Pool's job.
//
// One DiskManager owns exactly one file, not a multi-file global page
// space, matching the one-file-per-table ownership model: reads past the
// current end of file return a zeroed page rather than an error, so a
// table can grow its chain by simply addressing the next page id.
package diskmanager

import (
	"errors"
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// DiskManager performs raw page I/O against a single file.
type DiskManager struct {
	path string
	file *os.File
	log  *logrus.Entry
}

// Open opens (creating if absent) the file at path for page I/O.
func Open(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, pkgerrors.Wrapf(types.ErrIo, "open %s: %v", path, err)
	}
	return &DiskManager{
		path: path,
		file: f,
		log:  logrus.WithField("component", "diskmanager").WithField("path", path),
	}, nil
}

// ReadPage reads the PAGE_SIZE bytes belonging to pageId. Reading a page
// beyond the current end of file is not an error: it yields a
// zero-initialized page (new-page semantics).
func (dm *DiskManager) ReadPage(pageId types.PageId) ([]byte, error) {
	buf := make([]byte, types.PageSize)
	offset := int64(pageId) * types.PageSize

	n, err := dm.file.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Short or missing read past EOF: treat as a fresh, zeroed page.
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			return buf, nil
		}
		return nil, pkgerrors.Wrapf(types.ErrIo, "read page %d: %v", pageId, err)
	}
	return buf, nil
}

// WritePage writes the PAGE_SIZE bytes of buf at pageId's offset, extending
// the file with zero bytes first if the target offset lies past the
// current end of file.
func (dm *DiskManager) WritePage(pageId types.PageId, buf []byte) error {
	if len(buf) != types.PageSize {
		return pkgerrors.Wrapf(types.ErrCorruption, "page write: buffer is %d bytes, want %d", len(buf), types.PageSize)
	}

	offset := int64(pageId) * types.PageSize

	info, err := dm.file.Stat()
	if err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	if offset > info.Size() {
		pad := make([]byte, offset-info.Size())
		if _, err := dm.file.WriteAt(pad, info.Size()); err != nil {
			return pkgerrors.Wrap(types.ErrIo, err.Error())
		}
	}

	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	dm.log.WithField("page_id", pageId).Debug("wrote page")
	return nil
}

// Sync flushes the underlying file to stable storage.
func (dm *DiskManager) Sync() error {
	if err := dm.file.Sync(); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return nil
}

// Close closes the underlying file handle.
func (dm *DiskManager) Close() error {
	if err := dm.file.Close(); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return nil
}
