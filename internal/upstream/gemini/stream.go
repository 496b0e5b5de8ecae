package gemini

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"gembalance-go/internal/constants"
	"gembalance-go/internal/gberrors"
	log "github.com/sirupsen/logrus"
)

const (
	streamScanBufSize = 64 * 1024
	streamScanBufMax  = 4 * 1024 * 1024
)

// Stream is a lazy sequence of SSE lines from one logical streaming call.
// Usage follows the bufio.Scanner shape:
//
//	st, err := client.StreamGenerate(ctx, payload, model, key)
//	if err != nil { ... }
//	defer st.Close()
//	for st.Next() {
//	    handle(st.Text())
//	}
//	if err := st.Err(); err != nil { ... }
//
// Connection failures before the first delivered line are retried with
// exponential backoff, up to the configured attempt budget. Once a line has
// been yielded, any subsequent failure is terminal: replaying the request
// would duplicate content the caller already consumed.
type Stream struct {
	ctx     context.Context
	client  *Client
	url     string
	payload []byte

	maxAttempts int
	baseDelay   time.Duration
	readTimeout time.Duration

	body    io.ReadCloser
	scanner *bufio.Scanner

	attempts int
	yielded  bool
	closed   bool
	line     string
	err      error
}

// Next advances to the next line. It returns false when the stream ends,
// fails terminally, or exhausts its reconnect budget; Err distinguishes
// those cases.
func (s *Stream) Next() bool {
	for {
		if s.err != nil || s.closed {
			return false
		}
		if s.body == nil {
			if err := s.connect(); err != nil {
				return false
			}
		}
		if s.scanner.Scan() {
			s.line = s.scanner.Text()
			s.yielded = true
			return true
		}

		scanErr := s.scanner.Err()
		s.closeBody()
		if scanErr == nil {
			// Upstream closed the stream normally.
			return false
		}
		if s.yielded {
			s.err = fmt.Errorf("%w: %v", gberrors.ErrStreamInterrupted, scanErr)
			return false
		}
		if !s.backoffAfterFailure(0, scanErr.Error()) {
			return false
		}
		// Loop reconnects via connect().
	}
}

// Text returns the line read by the last successful Next call.
func (s *Stream) Text() string { return s.line }

// Err returns the terminal error, if any. A normally completed stream
// returns nil.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying connection. It is safe to call at any time,
// including mid-stream abandonment.
func (s *Stream) Close() error {
	s.closed = true
	s.closeBody()
	return nil
}

func (s *Stream) closeBody() {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
		s.scanner = nil
	}
}

// connect establishes the streamed response, consuming retry attempts on
// transport errors and non-success statuses.
func (s *Stream) connect() error {
	for {
		resp, err := s.client.openStream(s.ctx, s.url, s.payload)
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.err = ctxErr
				return s.err
			}
			if !s.backoffAfterFailure(0, err.Error()) {
				return s.err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))
			_ = resp.Body.Close()
			if !s.backoffAfterFailure(resp.StatusCode, string(body)) {
				return s.err
			}
			continue
		}

		body := io.ReadCloser(resp.Body)
		if s.readTimeout > 0 {
			body = &timeoutReader{rc: resp.Body, timeout: s.readTimeout}
		}
		s.body = body
		s.scanner = bufio.NewScanner(body)
		s.scanner.Buffer(make([]byte, 0, streamScanBufSize), streamScanBufMax)
		return nil
	}
}

// backoffAfterFailure burns one attempt and sleeps baseDelay * 2^attempt
// (attempt zero-indexed) before the reconnect. It returns false once the
// attempt budget is spent or the context is done, with s.err set.
func (s *Stream) backoffAfterFailure(status int, message string) bool {
	failed := s.attempts
	s.attempts++
	if s.attempts >= s.maxAttempts {
		s.err = &gberrors.StreamFailedError{Status: status, Message: message, Attempts: s.attempts}
		return false
	}

	delay := s.baseDelay << uint(failed)
	if delay > constants.DefaultStreamRetryMaxDelay {
		delay = constants.DefaultStreamRetryMaxDelay
	}
	log.WithFields(log.Fields{
		"attempt": failed,
		"status":  status,
		"delay":   delay.String(),
	}).Debug("stream connect failed, backing off before retry")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	}
}

// timeoutReader bounds every Read on the streamed body. A stalled upstream
// trips the timer, which closes the body to unblock the Read; the scanner
// then sees the deadline error like any other transport failure, so the
// usual retry boundary applies.
type timeoutReader struct {
	rc       io.ReadCloser
	timeout  time.Duration
	timedOut atomic.Bool
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	timer := time.AfterFunc(t.timeout, func() {
		t.timedOut.Store(true)
		_ = t.rc.Close()
	})
	n, err := t.rc.Read(p)
	timer.Stop()
	if err != nil && t.timedOut.Load() {
		return n, fmt.Errorf("stream read stalled for %s: %w", t.timeout, os.ErrDeadlineExceeded)
	}
	return n, err
}

func (t *timeoutReader) Close() error { return t.rc.Close() }
