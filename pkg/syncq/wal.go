package syncq

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	recordHeaderSize = 17         // 8 (offset) + 4 (crc) + 4 (length) + 1 (flags)
	fileHeaderSize   = 8          // 4 (magic) + 4 (reserved)
	fileMagic        = 0x43535951 // "CSYQ"

	flagCompressed = 1 << 0

	compressMinBytes = 512
	maxRecordBytes   = 64 * 1024 * 1024
)

// WALRecord is a recovered journal entry with its sequence offset.
type WALRecord struct {
	Offset int64
	Data   []byte
}

// WALOptions configure the durable op journal.
type WALOptions struct {
	Dir            string
	MaxFileSize    int64
	EnableCompress bool
}

// FileWAL journals queued ops so they survive restarts. Appends are
// fsynced before they are acknowledged; flush acks advance a cursor kept
// by the caller and TruncateBefore prunes fully-acked files.
type FileWAL struct {
	dir            string
	maxSize        int64
	enableCompress bool

	mu       sync.Mutex
	curr     *walFile
	files    []*walFile
	nextNum  int
	seq      int64
	crcTable *crc32.Table
	closed   bool
}

type walFile struct {
	f      *os.File
	num    int
	size   int64
	minSeq int64
	maxSeq int64
}

// NewWAL opens (or recovers) the journal under opts.Dir.
func NewWAL(opts WALOptions) (*FileWAL, error) {
	if opts.MaxFileSize <= 0 {
		return nil, fmt.Errorf("wal options missing max_file_size; ensure config.ValidateConfig() applied defaults")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &FileWAL{
		dir:            opts.Dir,
		maxSize:        opts.MaxFileSize,
		enableCompress: opts.EnableCompress,
		crcTable:       crc32.MakeTable(crc32.Castagnoli),
	}

	maxSeq, err := w.recoverFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to recover WAL files: %w", err)
	}
	w.seq = maxSeq + 1

	if w.curr == nil {
		if err := w.createNewFile(); err != nil {
			return nil, fmt.Errorf("failed to create initial WAL file: %w", err)
		}
	} else if _, err := w.curr.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("failed to seek to end of current WAL file: %w", err)
	}
	return w, nil
}

// Append journals data, fsyncs, and returns the assigned offset.
func (w *FileWAL) Append(data []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("WAL is closed")
	}

	toWrite := data
	flags := byte(0)
	if w.enableCompress && len(data) > compressMinBytes {
		if compressed, err := compressData(data); err == nil && len(compressed) < len(data) {
			toWrite = compressed
			flags |= flagCompressed
		}
	}

	recordSize := int64(recordHeaderSize + len(toWrite))
	if w.curr.size+recordSize > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate WAL file: %w", err)
		}
	}

	offset := w.seq
	if err := w.writeRecord(w.curr.f, offset, toWrite, flags); err != nil {
		return 0, fmt.Errorf("failed to write record at offset %d: %w", offset, err)
	}
	w.curr.size += recordSize
	w.seq++

	if w.curr.minSeq == -1 || offset < w.curr.minSeq {
		w.curr.minSeq = offset
	}
	if offset > w.curr.maxSeq {
		w.curr.maxSeq = offset
	}

	if err := w.curr.f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to fsync WAL file: %w", err)
	}
	return offset, nil
}

// Recover reads all journal entries from files in order.
func (w *FileWAL) Recover() ([]WALRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var result []WALRecord
	for _, wf := range w.files {
		if _, err := wf.f.Seek(fileHeaderSize, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek file %d: %w", wf.num, err)
		}
		records, err := w.readRecords(wf.f, wf.num)
		if err != nil {
			return nil, fmt.Errorf("failed to read records from file %d: %w", wf.num, err)
		}
		result = append(result, records...)
	}
	return result, nil
}

// TruncateBefore deletes all journal files whose every record offset is
// below minOffset.
func (w *FileWAL) TruncateBefore(minOffset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var toDelete, toKeep []*walFile
	for _, wf := range w.files {
		if wf.maxSeq >= 0 && wf.maxSeq < minOffset && wf != w.curr {
			toDelete = append(toDelete, wf)
		} else {
			toKeep = append(toKeep, wf)
		}
	}

	for _, wf := range toDelete {
		if err := wf.f.Close(); err != nil {
			return fmt.Errorf("failed to close file %d: %w", wf.num, err)
		}
		path := filepath.Join(w.dir, fmt.Sprintf("%06d.wal", wf.num))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove file %s: %w", path, err)
		}
	}
	w.files = toKeep

	if len(toDelete) > 0 {
		if err := syncDir(w.dir); err != nil {
			return fmt.Errorf("failed to sync directory: %w", err)
		}
	}
	return nil
}

// Close closes all journal files safely.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for _, wf := range w.files {
		if err := wf.f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to sync file %d: %w", wf.num, err)
		}
		if err := wf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close file %d: %w", wf.num, err)
		}
	}
	return firstErr
}

// --- internal helpers ---

func (w *FileWAL) recoverFiles() (int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}

	type fileInfo struct {
		name string
		num  int
	}
	var walFiles []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wal" {
			continue
		}
		num := 0
		if _, err := fmt.Sscanf(e.Name(), "%d.wal", &num); err != nil {
			continue
		}
		walFiles = append(walFiles, fileInfo{name: e.Name(), num: num})
	}
	sort.Slice(walFiles, func(i, j int) bool { return walFiles[i].num < walFiles[j].num })

	maxSeq := int64(-1)
	for _, fi := range walFiles {
		fpath := filepath.Join(w.dir, fi.name)
		f, err := os.OpenFile(fpath, os.O_RDWR, 0o644)
		if err != nil {
			return 0, fmt.Errorf("failed to open WAL file %s: %w", fi.name, err)
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to stat WAL file %s: %w", fi.name, err)
		}
		if err := w.validateFileHeader(f); err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to validate file %s: %w", fi.name, err)
		}

		wf := &walFile{f: f, num: fi.num, size: stat.Size(), minSeq: -1, maxSeq: -1}

		seqs, validSize, err := w.scanFile(f)
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to scan WAL file %s: %w", fi.name, err)
		}
		// drop a torn tail write from a crash mid-append
		if validSize < stat.Size() {
			if err := f.Truncate(validSize); err != nil {
				f.Close()
				return 0, fmt.Errorf("failed to truncate WAL file %s: %w", fi.name, err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return 0, fmt.Errorf("failed to sync truncated file %s: %w", fi.name, err)
			}
			wf.size = validSize
		}
		if len(seqs) > 0 {
			wf.minSeq = seqs[0]
			wf.maxSeq = seqs[len(seqs)-1]
			if wf.maxSeq > maxSeq {
				maxSeq = wf.maxSeq
			}
		}
		w.files = append(w.files, wf)
		if fi.num >= w.nextNum {
			w.nextNum = fi.num + 1
		}
		w.curr = wf
	}
	return maxSeq, nil
}

func (w *FileWAL) validateFileHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		if errors.Is(err, io.EOF) {
			return w.writeFileHeader(f)
		}
		return err
	}
	if magic != fileMagic {
		return fmt.Errorf("invalid file magic: 0x%X", magic)
	}
	var reserved uint32
	return binary.Read(f, binary.BigEndian, &reserved)
}

func (w *FileWAL) writeFileHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint32(fileMagic)); err != nil {
		return err
	}
	return binary.Write(f, binary.BigEndian, uint32(0))
}

func (w *FileWAL) scanFile(f *os.File) ([]int64, int64, error) {
	if _, err := f.Seek(fileHeaderSize, io.SeekStart); err != nil {
		return nil, 0, err
	}
	var seqs []int64
	validSize := int64(fileHeaderSize)
	for {
		recordStart := validSize

		var offset int64
		var crc uint32
		var length int32
		var flags byte
		if err := binary.Read(f, binary.BigEndian, &offset); err != nil {
			break
		}
		if err := binary.Read(f, binary.BigEndian, &crc); err != nil {
			break
		}
		if err := binary.Read(f, binary.BigEndian, &length); err != nil {
			break
		}
		if err := binary.Read(f, binary.BigEndian, &flags); err != nil {
			break
		}
		if length < 0 || int64(length) > maxRecordBytes {
			break
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			break
		}
		if crc32.Checksum(data, w.crcTable) != crc {
			break
		}
		seqs = append(seqs, offset)
		validSize = recordStart + recordHeaderSize + int64(length)
	}
	return seqs, validSize, nil
}

func (w *FileWAL) createNewFile() error {
	name := fmt.Sprintf("%06d.wal", w.nextNum)
	w.nextNum++
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if err := w.writeFileHeader(f); err != nil {
		f.Close()
		return err
	}
	if err := syncDir(w.dir); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	wf := &walFile{f: f, num: w.nextNum - 1, size: fileHeaderSize, minSeq: -1, maxSeq: -1}
	w.files = append(w.files, wf)
	w.curr = wf
	return nil
}

func (w *FileWAL) rotate() error {
	if err := w.curr.f.Sync(); err != nil {
		return err
	}
	if err := w.curr.f.Close(); err != nil {
		return err
	}
	// keep the rotated file's metadata; reopen read-only for recovery reads
	prev := w.curr
	f, err := os.Open(filepath.Join(w.dir, fmt.Sprintf("%06d.wal", prev.num)))
	if err != nil {
		return err
	}
	prev.f = f
	return w.createNewFile()
}

func (w *FileWAL) writeRecord(f *os.File, offset int64, data []byte, flags byte) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, offset); err != nil {
		return err
	}
	crc := crc32.Checksum(data, w.crcTable)
	if err := binary.Write(&buf, binary.BigEndian, crc); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(len(data))); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, flags); err != nil {
		return err
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	_, err := f.Write(buf.Bytes())
	return err
}

func (w *FileWAL) readRecords(f *os.File, fileNum int) ([]WALRecord, error) {
	var result []WALRecord
	for {
		var offset int64
		var crc uint32
		var length int32
		var flags byte
		if err := binary.Read(f, binary.BigEndian, &offset); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if err := binary.Read(f, binary.BigEndian, &crc); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.BigEndian, &flags); err != nil {
			return nil, err
		}
		if length < 0 || int64(length) > maxRecordBytes {
			return nil, fmt.Errorf("invalid record length %d in file %d at offset %d", length, fileNum, offset)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, err
		}
		if crc32.Checksum(data, w.crcTable) != crc {
			return nil, fmt.Errorf("CRC mismatch in file %d at offset %d", fileNum, offset)
		}
		if flags&flagCompressed != 0 {
			decompressed, err := decompressData(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress record in file %d at offset %d: %w", fileNum, offset, err)
			}
			data = decompressed
		}
		result = append(result, WALRecord{Offset: offset, Data: data})
	}
	return result, nil
}

// EncodeOp serializes an op for journaling.
func EncodeOp(op *Op) ([]byte, error) {
	return json.Marshal(op)
}

// DecodeOp deserializes a journaled op.
func DecodeOp(data []byte) (*Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("invalid journaled op: %w", err)
	}
	return &op, nil
}

func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressData(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
