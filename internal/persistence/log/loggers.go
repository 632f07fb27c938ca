package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"beltsim.ai/internal/sim/factory"
)

const hourLayout = "2006-01-02-15"

// segment is one open hourly file: file <- zstd frame <- buffer <- JSON encoder.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("segment dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	buf := bufio.NewWriterSize(zw, 64<<10)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &segment{hour: hour, file: file, zw: zw, buf: buf, enc: enc}, nil
}

// append encodes one line; it is on disk when append returns.
func (s *segment) append(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segment) close() error {
	return errors.Join(s.buf.Flush(), s.zw.Close(), s.file.Close())
}

// JSONLZstdWriter appends JSON lines to zstd-compressed files, one file per
// UTC hour: <baseDir>/<prefix>-<hour>.jsonl.zst. Safe for concurrent use.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu  sync.Mutex
	seg *segment
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	if w.seg == nil || w.seg.hour != hour {
		if err := w.closeSegment(); err != nil {
			return err
		}
		name := fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour)
		seg, err := openSegment(filepath.Join(w.baseDir, name), hour)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	return w.seg.append(v)
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment()
}

func (w *JSONLZstdWriter) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

func EventsDir(dataDir string) string { return filepath.Join(dataDir, "events") }

// TickLogger is the replay source: one line per tick under <dataDir>/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(EventsDir(dataDir), "events")}
}

func (l *TickLogger) WriteTick(e factory.TickLogEntry) error { return l.w.Write(e) }
func (l *TickLogger) Close() error                           { return l.w.Close() }

// AuditLogger records accepted structural edits under <dataDir>/audit.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e factory.AuditEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                          { return l.w.Close() }
