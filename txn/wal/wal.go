// Package wal is the append-only, single-file write-ahead log the
// Transaction Manager appends to before pages are written back to disk.
//
// Two record shapes share one file. BEGIN/COMMIT/ABORT/CHECKPOINT are
// single human-readable text lines, ending in "\n" — simple enough that
// they never need framing. WRITE records are not line-safe: they embed a
// table name and the full 4096-byte before- and after-images of a page,
// which can contain an arbitrary "\n" byte, so each is instead wrapped in
// a length-prefixed binary frame (a marker byte distinguishes it from a
// text line on replay). The table name travels with the record because
// every table owns its own file and page numbering, so a PageId alone
// cannot say which table's buffer pool it belongs to.
//
// A WRITE frame's length prefix and CRC32 catch a truncated or corrupted
// tail rather than letting it be silently replayed.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// recordKind tags how a record's bytes are framed in the log file.
type recordKind byte

const (
	kindText  recordKind = 'T' // a single "\n"-terminated human-readable line
	kindWrite recordKind = 'W' // a length-prefixed binary WRITE frame
)

// RecordType is the logical operation a log record represents.
type RecordType string

const (
	Begin      RecordType = "BEGIN"
	Commit     RecordType = "COMMIT"
	Abort      RecordType = "ABORT"
	Checkpoint RecordType = "CHECKPOINT"
	Write      RecordType = "WRITE"
)

// Record is one decoded entry read back from the log during recovery.
type Record struct {
	Type   RecordType
	Txn    types.TransactionId
	Table  string // WRITE only: which table's file PageId belongs to
	PageId types.PageId
	Before []byte // WRITE only: the page image before the write
	After  []byte // WRITE only: the page image after the write
}

// Log is the append-only write-ahead log.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  *logrus.Entry
}

// Open opens (creating if absent) the log file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, pkgerrors.Wrapf(types.ErrIo, "open wal %s: %v", path, err)
	}
	return &Log{
		path: path,
		file: f,
		log:  logrus.WithField("component", "wal"),
	}, nil
}

// AppendBegin writes a BEGIN marker for txn and flushes it to disk.
func (l *Log) AppendBegin(txn types.TransactionId) error {
	return l.appendText(fmt.Sprintf("BEGIN %d\n", txn))
}

// AppendCommit writes a COMMIT marker for txn and flushes it to disk.
func (l *Log) AppendCommit(txn types.TransactionId) error {
	return l.appendText(fmt.Sprintf("COMMIT %d\n", txn))
}

// AppendAbort writes an ABORT marker for txn and flushes it to disk.
func (l *Log) AppendAbort(txn types.TransactionId) error {
	return l.appendText(fmt.Sprintf("ABORT %d\n", txn))
}

// AppendCheckpoint writes a CHECKPOINT marker and flushes it to disk.
func (l *Log) AppendCheckpoint() error {
	return l.appendText("CHECKPOINT\n")
}

// AppendWrite records the before/after images of one page write under
// txn, for redo (After) and undo (Before) during recovery. table names
// which table's file pageId belongs to: every table owns its own file
// and buffer pool, so a PageId alone is not unique across the database.
func (l *Log) AppendWrite(txn types.TransactionId, table string, pageId types.PageId, before, after []byte) error {
	if len(before) != types.PageSize || len(after) != types.PageSize {
		return pkgerrors.Wrapf(types.ErrCorruption, "wal write record: page images must be %d bytes", types.PageSize)
	}

	body := make([]byte, 0, 20+len(table)+16+2*types.PageSize)
	var txnBuf [8]byte
	binary.BigEndian.PutUint64(txnBuf[:], uint64(txn))
	body = append(body, txnBuf[:]...)

	var tableLenBuf [4]byte
	binary.BigEndian.PutUint32(tableLenBuf[:], uint32(len(table)))
	body = append(body, tableLenBuf[:]...)
	body = append(body, table...)

	var pageBuf [8]byte
	binary.BigEndian.PutUint64(pageBuf[:], uint64(pageId))
	body = append(body, pageBuf[:]...)

	body = append(body, before...)
	body = append(body, after...)

	crc := crc32.ChecksumIEEE(body)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write([]byte{byte(kindWrite)}); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := l.file.Write(lenBuf[:]); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	if _, err := l.file.Write(crcBuf[:]); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	if _, err := l.file.Write(body); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return l.file.Sync()
}

func (l *Log) appendText(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write([]byte{byte(kindText)}); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	if _, err := l.file.WriteString(line); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return l.file.Sync()
}

// ReadAll replays every record currently in the log, in append order.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	r := bufio.NewReader(l.file)

	var records []Record
	for {
		kindByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
		}

		switch recordKind(kindByte) {
		case kindText:
			line, err := r.ReadString('\n')
			if err != nil {
				return nil, pkgerrors.Wrap(types.ErrCorruption, "wal: truncated text record")
			}
			rec, err := parseTextLine(strings.TrimSuffix(line, "\n"))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)

		case kindWrite:
			rec, err := readWriteFrame(r)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)

		default:
			return nil, pkgerrors.Wrapf(types.ErrCorruption, "wal: unknown record kind %q", kindByte)
		}
	}

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return records, nil
}

func parseTextLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: empty text record")
	}
	switch fields[0] {
	case string(Checkpoint):
		return Record{Type: Checkpoint}, nil
	case string(Begin), string(Commit), string(Abort):
		if len(fields) != 2 {
			return Record{}, pkgerrors.Wrapf(types.ErrCorruption, "wal: malformed %s record", fields[0])
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Record{}, pkgerrors.Wrapf(types.ErrCorruption, "wal: bad transaction id %q", fields[1])
		}
		return Record{Type: RecordType(fields[0]), Txn: types.TransactionId(id)}, nil
	default:
		return Record{}, pkgerrors.Wrapf(types.ErrCorruption, "wal: unknown record type %q", fields[0])
	}
}

func readWriteFrame(r *bufio.Reader) (Record, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: truncated write-frame length")
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf)

	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: truncated write-frame crc")
	}
	wantCrc := binary.BigEndian.Uint32(crcBuf)

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: truncated write-frame body")
	}

	if crc32.ChecksumIEEE(body) != wantCrc {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: write-frame checksum mismatch")
	}
	if len(body) < 12 {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: write-frame body too short")
	}

	txn := types.TransactionId(binary.BigEndian.Uint64(body[0:8]))
	tableLen := int(binary.BigEndian.Uint32(body[8:12]))
	cur := 12
	if cur+tableLen+8+2*types.PageSize > len(body) {
		return Record{}, pkgerrors.Wrap(types.ErrCorruption, "wal: write-frame body too short")
	}
	table := string(body[cur : cur+tableLen])
	cur += tableLen

	pageId := types.PageId(binary.BigEndian.Uint64(body[cur : cur+8]))
	cur += 8
	before := body[cur : cur+types.PageSize]
	cur += types.PageSize
	after := body[cur : cur+types.PageSize]

	return Record{Type: Write, Txn: txn, Table: table, PageId: pageId, Before: before, After: after}, nil
}

// Truncate discards every record currently in the log. Called right
// after a checkpoint has durably persisted all dirty pages, since no
// older record can ever be needed for recovery again.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return nil
}
