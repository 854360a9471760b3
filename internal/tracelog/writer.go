// Package tracelog records tick messages as hourly-rotated, zstd-compressed
// JSON lines.
package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chunkstream.ai/internal/observerproto"
)

const (
	tickPrefix = "ticks"
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

// HourlyWriter appends JSON lines to <dir>/<prefix>-<UTC hour>.jsonl.zst and
// starts a new file whenever the hour changes. Each line is flushed to the
// file before Write returns.
type HourlyWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg *segment
}

// segment is one open hourly file.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func NewHourlyWriter(dir, prefix string) *HourlyWriter {
	return &HourlyWriter{dir: dir, prefix: prefix, now: time.Now}
}

func segmentName(prefix, hour string) string {
	return prefix + "-" + hour + fileSuffix
}

func openSegment(dir, prefix, hour string) (*segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, segmentName(prefix, hour)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{hour: hour, file: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}, nil
}

func (s *segment) appendLine(line []byte) error {
	line = append(line, '\n')
	if _, err := s.buf.Write(line); err != nil {
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

// Write encodes v as one line of the segment for the current hour.
func (w *HourlyWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	hour := w.now().UTC().Format(hourLayout)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil || w.seg.hour != hour {
		if err := w.closeSegment(); err != nil {
			return err
		}
		seg, err := openSegment(w.dir, w.prefix, hour)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	return w.seg.appendLine(line)
}

func (w *HourlyWriter) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

func (w *HourlyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment()
}

// TickLogger is a loop sink writing every tick under <dir>/ticks.
type TickLogger struct{ w *HourlyWriter }

func NewTickLogger(dir string) *TickLogger {
	return &TickLogger{w: NewHourlyWriter(filepath.Join(dir, tickPrefix), tickPrefix)}
}

func (l *TickLogger) WriteTick(msg observerproto.TickMsg) error { return l.w.Write(msg) }
func (l *TickLogger) Close() error                              { return l.w.Close() }
