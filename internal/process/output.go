package process

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// maxLine caps a buffered partial line; longer output is emitted in chunks.
const maxLine = 64 * 1024

// lineSink forwards child output line by line to the operator log and,
// verbatim, to an optional file writer.
type lineSink struct {
	mu     sync.Mutex
	log    *slog.Logger
	level  slog.Level
	stream string
	file   io.Writer
	buf    []byte
}

func newLineSink(log *slog.Logger, stream string, level slog.Level, file io.Writer) *lineSink {
	return &lineSink{log: log, stream: stream, level: level, file: file}
}

func (w *lineSink) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_, _ = w.file.Write(b)
	}
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(b), nil
}

// Flush emits a trailing line without newline.
func (w *lineSink) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineSink) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.log.Log(context.Background(), w.level, "backend output", "stream", w.stream, "line", string(line))
}
