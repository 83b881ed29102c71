package docker

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// maxLogLines caps a single finite read; callers learn about the cut via
// the hasMore flag and narrow with tail/since.
const maxLogLines = 10000

// LogLine is one demultiplexed container log line.
type LogLine struct {
	Stream    string
	Timestamp *time.Time
	Message   string
}

// LogsOptions narrows a finite log read.
type LogsOptions struct {
	Tail       int
	Since      time.Time
	Timestamps bool
}

// ContainerLogs fetches up to maxLogLines lines in one read. hasMore reports
// that the cap was hit and older lines exist.
func (c *Client) ContainerLogs(ctx context.Context, id string, opts LogsOptions) ([]LogLine, bool, error) {
	sdkOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: opts.Timestamps,
	}
	if opts.Tail > 0 {
		tail := opts.Tail
		if tail > maxLogLines {
			tail = maxLogLines
		}
		sdkOpts.Tail = strconv.Itoa(tail)
	}
	if !opts.Since.IsZero() {
		sdkOpts.Since = strconv.FormatInt(opts.Since.Unix(), 10)
	}

	body, err := c.inner.ContainerLogs(ctx, id, sdkOpts)
	if err != nil {
		return nil, false, classify("container logs", err)
	}
	defer body.Close()

	var (
		lines   []LogLine
		hasMore bool
	)
	collect := func(line LogLine) {
		if len(lines) >= maxLogLines {
			hasMore = true
			return
		}
		lines = append(lines, line)
	}
	stdout := newLineWriter("stdout", opts.Timestamps, collect)
	stderr := newLineWriter("stderr", opts.Timestamps, collect)
	if _, err := stdcopy.StdCopy(stdout, stderr, body); err != nil {
		return nil, false, classify("read container logs", err)
	}
	stdout.flush()
	stderr.flush()
	return lines, hasMore, nil
}

// FollowContainerLogs streams log lines until the context ends or the
// container stops producing output. Timestamps are always requested so the
// stream can carry them to subscribers. A tail of zero skips the backlog
// and follows new output only.
func (c *Client) FollowContainerLogs(ctx context.Context, id string, tail int) (<-chan LogLine, <-chan error) {
	lines := make(chan LogLine, 64)
	errs := make(chan error, 1)

	sdkOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	}
	if tail > maxLogLines {
		tail = maxLogLines
	}
	sdkOpts.Tail = strconv.Itoa(max(tail, 0))

	go func() {
		defer close(lines)
		defer close(errs)

		body, err := c.inner.ContainerLogs(ctx, id, sdkOpts)
		if err != nil {
			errs <- classify("container logs", err)
			return
		}
		defer body.Close()

		// stdcopy invokes the two writers sequentially, so pushing from
		// inside Write preserves daemon frame order across streams.
		emit := func(line LogLine) {
			select {
			case lines <- line:
			case <-ctx.Done():
			}
		}
		stdout := newLineWriter("stdout", true, emit)
		stderr := newLineWriter("stderr", true, emit)
		if _, err := stdcopy.StdCopy(stdout, stderr, body); err != nil && ctx.Err() == nil {
			errs <- classify("read container logs", err)
			return
		}
		stdout.flush()
		stderr.flush()
	}()

	return lines, errs
}

// lineWriter splits a demultiplexed byte stream into parsed log lines.
type lineWriter struct {
	stream     string
	timestamps bool
	buf        []byte
	emit       func(LogLine)
}

func newLineWriter(stream string, timestamps bool, emit func(LogLine)) *lineWriter {
	return &lineWriter{stream: stream, timestamps: timestamps, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			return len(p), nil
		}
		w.emit(parseLogLine(w.stream, string(w.buf[:idx]), w.timestamps))
		w.buf = w.buf[idx+1:]
	}
}

// flush emits a trailing line that was not newline-terminated.
func (w *lineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	w.emit(parseLogLine(w.stream, string(w.buf), w.timestamps))
	w.buf = nil
}

// parseLogLine splits the daemon's RFC3339Nano prefix off when timestamps
// were requested. Short lines are passed through untouched.
func parseLogLine(stream, raw string, timestamps bool) LogLine {
	line := LogLine{Stream: stream}
	if timestamps && len(raw) > 30 {
		if idx := strings.IndexByte(raw, ' '); idx > 0 {
			if ts, err := time.Parse(time.RFC3339Nano, raw[:idx]); err == nil {
				utc := ts.UTC()
				line.Timestamp = &utc
				raw = raw[idx+1:]
			}
		}
	}
	line.Message = strings.TrimRight(raw, " \t\r\n")
	return line
}
