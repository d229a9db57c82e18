package runner

import (
	"bytes"
	"strings"
	"time"

	"matrixci/internal/storage/models"
	"matrixci/internal/stream"
)

// maxOutputBytes caps how much step output a job record keeps. Output past
// the cap is dropped from the record; the stream still carries every line
// live.
const maxOutputBytes = 256 << 10

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report the full length so upstream writers never see a short write
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]\n"
	}
	return b.buf.String()
}

// eventWriter mirrors job output to the stream one line at a time.
type eventWriter struct {
	sink stream.Sink
	job  models.Job
	buf  bytes.Buffer
}

func newEventWriter(sink stream.Sink, job models.Job) *eventWriter {
	return &eventWriter{sink: sink, job: job}
}

func (w *eventWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next write
			if line != "" {
				w.buf.WriteString(line)
			}
			break
		}
		w.publish(strings.TrimSuffix(line, "\n"))
	}
	return len(p), nil
}

// Flush publishes trailing output that never got a newline.
func (w *eventWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}
	w.publish(strings.TrimRight(w.buf.String(), "\n"))
	w.buf.Reset()
}

func (w *eventWriter) publish(line string) {
	w.sink.Publish(stream.Event{
		Type:        stream.EventJobLog,
		RunID:       w.job.RunID,
		JobID:       w.job.ID,
		Environment: w.job.Environment,
		Line:        line,
		Timestamp:   time.Now(),
	})
}
