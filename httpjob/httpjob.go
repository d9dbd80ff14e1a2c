// Package httpjob implements the single-use HTTP request wrapper of
// spec section 4.6: one request, a body mode (buffered or streamed to
// an fd), and header/progress/open-disk callbacks the pull orchestrator
// drives its state machine from. The v1 registry protocol this speaks
// has no client in the example pack (google/go-containerregistry only
// speaks OCI/v2), so this is a direct net/http implementation rather
// than a wrapped library transport.
package httpjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/importd/dkrimport/dkrerr"
)

// MaxBufferedBody bounds a buffered-mode response; the payloads in this
// protocol are small JSON documents, never a layer body.
const MaxBufferedBody = 16 << 20 // 16 MiB

// BodyMode selects how a Job's response body is consumed.
type BodyMode int

const (
	// Buffered reads the whole body into memory, capped at
	// MaxBufferedBody.
	Buffered BodyMode = iota
	// Streamed writes the body to the fd OnOpenDisk supplies.
	Streamed
)

// Job is a single-use HTTP request. Run must be called exactly once.
type Job struct {
	Client  *http.Client
	Method  string
	URL     string
	Headers http.Header
	Mode    BodyMode

	// Token, if non-empty, sends "Authorization: Token {token}";
	// otherwise "X-Dkr-Token: true" is sent instead, per spec section
	// 4.6's required-header rule.
	Token string

	// OnHeader is invoked once per response header.
	OnHeader func(name, value string)
	// OnOpenDisk is invoked exactly once in Streamed mode, just before
	// the first body byte is written, and must return the destination
	// to write into.
	OnOpenDisk func() (io.Writer, error)
	// OnProgress is invoked with a monotonically non-decreasing percent
	// in [0, 100]. May be nil.
	OnProgress func(percent int)
}

// Run executes the request. In Buffered mode the returned []byte is the
// full body; in Streamed mode it is always nil and the body has been
// written via OnOpenDisk's writer.
func (j *Job) Run(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, j.Method, j.URL, nil)
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.NetworkError, "httpjob.Run", err)
	}
	for name, values := range j.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if j.Token != "" {
		req.Header.Set("Authorization", "Token "+j.Token)
	} else {
		req.Header.Set("X-Dkr-Token", "true")
	}

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.NetworkError, "httpjob.Run", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	for name, values := range resp.Header {
		for _, v := range values {
			if j.OnHeader != nil {
				j.OnHeader(name, v)
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dkrerr.New(dkrerr.NetworkError, "httpjob.Run", fmt.Errorf("unexpected status %s", resp.Status))
	}

	switch j.Mode {
	case Buffered:
		return j.runBuffered(resp)
	default:
		return nil, j.runStreamed(resp)
	}
}

func (j *Job) runBuffered(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxBufferedBody+1)
	body, err := io.ReadAll(j.withProgress(limited, resp.ContentLength))
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.NetworkError, "httpjob.runBuffered", err)
	}
	if int64(len(body)) > MaxBufferedBody {
		return nil, dkrerr.New(dkrerr.ProtocolError, "httpjob.runBuffered", errors.New("response body exceeds buffered cap"))
	}
	if j.OnProgress != nil {
		j.OnProgress(100)
	}
	return body, nil
}

func (j *Job) runStreamed(resp *http.Response) error {
	if j.OnOpenDisk == nil {
		return dkrerr.New(dkrerr.InvalidArgument, "httpjob.runStreamed", errors.New("streamed mode requires OnOpenDisk"))
	}
	sink, err := j.OnOpenDisk()
	if err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "httpjob.runStreamed", err)
	}
	if _, err := io.Copy(sink, j.withProgress(resp.Body, resp.ContentLength)); err != nil {
		return dkrerr.Wrap(dkrerr.NetworkError, "httpjob.runStreamed", err)
	}
	if j.OnProgress != nil {
		j.OnProgress(100)
	}
	return nil
}

// withProgress wraps r so each read reports percent-of-total to
// OnProgress. With total <= 0 (Content-Length unknown) nothing is
// reported while reading; the caller reports 100 once the body is done.
func (j *Job) withProgress(r io.Reader, total int64) io.Reader {
	if j.OnProgress == nil {
		return r
	}
	return &progressReader{r: r, total: total, onProgress: j.OnProgress}
}

type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(percent int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		p.onProgress(percent)
	}
	return n, err
}

// OpenFileSink is the common Streamed-mode OnOpenDisk: write directly
// into an already-open file (e.g. the extraction pipe's write end).
func OpenFileSink(f *os.File) func() (io.Writer, error) {
	return func() (io.Writer, error) { return f, nil }
}
