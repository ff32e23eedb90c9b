package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"zoneserver.ai/internal/sim/world"
)

const defaultRotateLayout = "2006-01-02-15"

// LoggerOptions tunes file rotation.
type LoggerOptions struct {
	// RotateLayout is the time layout that names a segment; a new file starts whenever the
	// formatted time changes. Defaults to hourly.
	RotateLayout string
	// OnClose receives the path of every segment once it is complete.
	OnClose func(path string)
}

// JSONLZstdWriter appends JSON lines to zstd files named <prefix>-<segment>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string
	onClose func(string)
	now     func() time.Time

	mu      sync.Mutex
	curSeg  string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	layout := opts.RotateLayout
	if layout == "" {
		layout = defaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  layout,
		onClose: opts.OnClose,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.now().UTC().Format(w.layout)
	if seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathFor(seg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	if w.curPath != "" && w.onClose != nil && err1 == nil {
		w.onClose(w.curPath)
	}
	w.curSeg = ""
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathFor(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

// ReadJSONL decodes every line of a closed writer file and hands it to fn. Appended
// segments (one per writer session) are read back to back.
func ReadJSONL(path string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 1 {
			if ferr := fn(json.RawMessage(line[:len(line)-1])); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// AuditLogger writes one entry per completed world operation (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(zoneDir string) *AuditLogger {
	return NewAuditLoggerWithOptions(zoneDir, LoggerOptions{})
}

func NewAuditLoggerWithOptions(zoneDir string, opts LoggerOptions) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(zoneDir, "audit"), "audit", opts)}
}

func (l *AuditLogger) WriteAudit(v world.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }

// StatsEntry is one periodic registry sample.
type StatsEntry struct {
	Time    time.Time          `json:"time"`
	ZoneID  string             `json:"zone_id"`
	Metrics world.WorldMetrics `json:"metrics"`
}

// StatsLogger writes periodic registry samples (compressed).
type StatsLogger struct{ w *JSONLZstdWriter }

func NewStatsLogger(zoneDir string) *StatsLogger {
	return NewStatsLoggerWithOptions(zoneDir, LoggerOptions{})
}

func NewStatsLoggerWithOptions(zoneDir string, opts LoggerOptions) *StatsLogger {
	return &StatsLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(zoneDir, "stats"), "stats", opts)}
}

func (l *StatsLogger) WriteStats(v StatsEntry) error { return l.w.Write(v) }
func (l *StatsLogger) Close() error                  { return l.w.Close() }
