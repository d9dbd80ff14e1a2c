// Package pull implements the state-machine orchestrator of spec
// sections 4.7 and 5: a single-consumer PullSession that sequences
// INDEX → RESOLVE → METADATA → DOWNLOAD → FINALIZE, owning exactly one
// outstanding layer job at a time.
package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/importd/dkrimport/dkrerr"
	"github.com/importd/dkrimport/extract"
	"github.com/importd/dkrimport/headers"
	"github.com/importd/dkrimport/httpjob"
	"github.com/importd/dkrimport/ident"
	"github.com/importd/dkrimport/layerstore"
	"github.com/importd/dkrimport/payload"
	"github.com/importd/dkrimport/progress"
	"github.com/importd/dkrimport/whiteout"

	"github.com/projecteru2/core/log"
)

type phaseKind int

const (
	phaseSearching phaseKind = iota
	phaseResolving
	phaseMetadata
	phaseDownloading
	phaseCopying
)

// Options is one pull request, validated up front per spec section 6.
type Options struct {
	Name  string // repository name
	Tag   string // defaults to "latest"
	Local string // optional working-copy name
	Force bool
}

// Session is the single-consumer orchestrator of a pull, per spec
// section 3's PullSession. Calls to Pull on one Session run one at a
// time: a Pull started while another is running fails Busy, so the
// invariants (at most one layer job, serialized state updates) hold.
type Session struct {
	IndexURL string
	Store    *layerstore.Store
	Client   *http.Client
	Tracker  progress.Tracker

	token     string
	endpoints []string

	// inFlight guards the single-consumer invariant: a second Pull on
	// the same Session while one is already running fails Busy instead
	// of racing runIndex/runResolve's unsynchronized writes to token
	// and endpoints above.
	inFlight atomic.Bool
}

// New builds a Session. indexURL must be a valid http(s) URL; a
// trailing slash is stripped, matching spec section 6's `new()` entry
// point. client defaults to http.DefaultClient; tracker defaults to
// progress.Nop.
func New(indexURL string, store *layerstore.Store, client *http.Client, tracker progress.Tracker) (*Session, error) {
	if indexURL == "" {
		return nil, dkrerr.New(dkrerr.InvalidArgument, "pull.New", fmt.Errorf("empty index URL"))
	}
	if u, err := url.Parse(indexURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, dkrerr.New(dkrerr.InvalidArgument, "pull.New", fmt.Errorf("index URL %q is not a valid http(s) URL", indexURL))
	}
	for len(indexURL) > 0 && indexURL[len(indexURL)-1] == '/' {
		indexURL = indexURL[:len(indexURL)-1]
	}
	if client == nil {
		client = http.DefaultClient
	}
	if tracker == nil {
		tracker = progress.Nop
	}
	return &Session{IndexURL: indexURL, Store: store, Client: client, Tracker: tracker}, nil
}

// Pull runs one full state machine pass to completion or failure,
// returning the resolved image id on success. It validates opts up
// front (InvalidArgument, before any network activity), then drives
// INDEX → RESOLVE → METADATA → DOWNLOAD → FINALIZE in order.
func (s *Session) Pull(ctx context.Context, opts Options) (string, error) {
	logger := log.WithFunc("pull.Pull")

	if !s.inFlight.CompareAndSwap(false, true) {
		return "", dkrerr.New(dkrerr.Busy, "pull.Pull", fmt.Errorf("a pull is already in progress on this session"))
	}
	defer s.inFlight.Store(false)

	if err := s.validateOptions(&opts); err != nil {
		return "", err
	}

	if err := s.runIndex(ctx, opts.Name); err != nil {
		logger.Errorf(ctx, "INDEX failed: %v", err)
		return "", err
	}

	imageID, err := s.runResolve(ctx, opts.Name, opts.Tag)
	if err != nil {
		logger.Errorf(ctx, "RESOLVE failed: %v", err)
		return "", err
	}

	ancestry, metadataJSON, err := s.runMetadata(ctx, imageID)
	if err != nil {
		logger.Errorf(ctx, "METADATA failed: %v", err)
		return "", err
	}

	if err := s.runDownload(ctx, ancestry); err != nil {
		logger.Errorf(ctx, "DOWNLOAD failed: %v", err)
		return "", err
	}

	if err := s.runFinalize(ctx, imageID, metadataJSON, opts); err != nil {
		logger.Errorf(ctx, "FINALIZE failed: %v", err)
		return "", err
	}

	logger.Infof(ctx, "pull complete: %s:%s -> %s", opts.Name, opts.Tag, imageID)
	return imageID, nil
}

func (s *Session) validateOptions(opts *Options) error {
	if opts.Tag == "" {
		opts.Tag = "latest"
	}
	if !ident.IsRepositoryName(opts.Name) {
		return dkrerr.New(dkrerr.InvalidArgument, "pull.validateOptions", fmt.Errorf("invalid repository name %q", opts.Name))
	}
	if !ident.IsTag(opts.Tag) {
		return dkrerr.New(dkrerr.InvalidArgument, "pull.validateOptions", fmt.Errorf("invalid tag %q", opts.Tag))
	}
	if opts.Local != "" && !ident.IsMachineName(opts.Local) {
		return dkrerr.New(dkrerr.InvalidArgument, "pull.validateOptions", fmt.Errorf("invalid local name %q", opts.Local))
	}
	return nil
}

// runIndex is the INDEX state: request images at the index, harvest
// token+endpoints from response headers.
func (s *Session) runIndex(ctx context.Context, name string) error {
	s.token, s.endpoints = "", nil
	job := &httpjob.Job{
		Client: s.Client,
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/v1/repositories/%s/images", s.IndexURL, name),
		Mode:   httpjob.Buffered,
		OnHeader: func(hname, value string) {
			// Apply's own error (invalid hostname) is surfaced via the
			// endpoints emptiness check below, matching spec section
			// 4.7's INDEX guard: "header callbacks must have produced a
			// non-empty registry list".
			_ = headers.Apply(hname, value, &s.token, &s.endpoints)
		},
		OnProgress: s.phaseProgress(phaseSearching, 0),
	}
	if _, err := job.Run(ctx); err != nil {
		return err
	}
	if len(s.endpoints) == 0 {
		return dkrerr.New(dkrerr.ProtocolError, "pull.runIndex", fmt.Errorf("no registry endpoints in response headers"))
	}
	return nil
}

// runResolve is the RESOLVE state: request the tag, parse the image id.
func (s *Session) runResolve(ctx context.Context, name, tag string) (string, error) {
	job := &httpjob.Job{
		Client:     s.Client,
		Method:     http.MethodGet,
		URL:        fmt.Sprintf("https://%s/v1/repositories/%s/tags/%s", s.endpoints[0], name, tag),
		Mode:       httpjob.Buffered,
		Token:      s.token,
		OnProgress: s.phaseProgress(phaseResolving, 0),
	}
	body, err := job.Run(ctx)
	if err != nil {
		return "", err
	}
	return payload.ParseID(body)
}

// runMetadata is the METADATA state: ancestry and json fetched
// concurrently via errgroup, matching the teacher's own use of
// errgroup for concurrent per-layer work (images/oci/pull.go), adapted
// here to exactly the two metadata requests spec section 5 allows to
// race at the I/O level.
func (s *Session) runMetadata(ctx context.Context, imageID string) ([]string, []byte, error) {
	var ancestry []string
	var metadataJSON []byte

	var mu sync.Mutex
	var ancestryPercent, jsonPercent int
	report := func() {
		mu.Lock()
		evt := progress.Event{
			Phase:   progress.PhaseMetadata,
			Percent: computePercent(phaseMetadata, 0, 0, ancestryPercent, jsonPercent),
		}
		mu.Unlock()
		s.Tracker.OnEvent(evt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		job := &httpjob.Job{
			Client: s.Client,
			Method: http.MethodGet,
			URL:    fmt.Sprintf("https://%s/v1/images/%s/ancestry", s.endpoints[0], imageID),
			Mode:   httpjob.Buffered,
			Token:  s.token,
			OnProgress: func(p int) {
				mu.Lock()
				ancestryPercent = p
				mu.Unlock()
				report()
			},
		}
		body, err := job.Run(gctx)
		if err != nil {
			return err
		}
		parsed, err := payload.ParseAncestry(body)
		if err != nil {
			return err
		}
		if parsed[len(parsed)-1] != imageID {
			return dkrerr.New(dkrerr.ProtocolError, "pull.runMetadata", fmt.Errorf("ancestry terminal %q does not match resolved image id %q", parsed[len(parsed)-1], imageID))
		}
		ancestry = parsed
		return nil
	})
	g.Go(func() error {
		job := &httpjob.Job{
			Client: s.Client,
			Method: http.MethodGet,
			URL:    fmt.Sprintf("https://%s/v1/images/%s/json", s.endpoints[0], imageID),
			Mode:   httpjob.Buffered,
			Token:  s.token,
			OnProgress: func(p int) {
				mu.Lock()
				jsonPercent = p
				mu.Unlock()
				report()
			},
		}
		body, err := job.Run(gctx)
		if err != nil {
			return err
		}
		if !json.Valid(body) {
			return dkrerr.New(dkrerr.ProtocolError, "pull.runMetadata", fmt.Errorf("malformed image json metadata"))
		}
		metadataJSON = body
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ancestry, metadataJSON, nil
}

// runDownload is the DOWNLOAD loop of spec section 4.7. Layers are
// downloaded strictly in ancestry order because each one may snapshot
// from its predecessor; only one layer job is ever in flight.
func (s *Session) runDownload(ctx context.Context, ancestry []string) error {
	logger := log.WithFunc("pull.runDownload")

	if len(ancestry) == 0 {
		return dkrerr.New(dkrerr.ProtocolError, "pull.runDownload", fmt.Errorf("empty ancestry at download entry"))
	}

	for cursor, layer := range ancestry {
		if s.Store.Exists(layer) {
			logger.Infof(ctx, "layer already exists: %s", layer)
			s.reportDownloadProgress(cursor, len(ancestry), 100)
			continue
		}
		if err := s.downloadLayer(ctx, cursor, ancestry); err != nil {
			return err
		}
	}
	return nil
}

// downloadLayer executes one missing layer's streamed request, open-
// disk snapshot/tar setup, and on-finished whiteout+seal sequence, per
// spec section 4.7's DOWNLOAD entry. A ConflictError from Seal (another
// pull won the rename race) is treated as success, per spec section 5's
// "the loser... treats the outcome as success".
func (s *Session) downloadLayer(ctx context.Context, cursor int, ancestry []string) error {
	logger := log.WithFunc("pull.downloadLayer")
	layer := ancestry[cursor]

	tempPath := s.Store.TempPath(layer)
	var child *extract.Child
	var inherited whiteout.Inherited

	defer func() {
		// Best-effort teardown: if a child is still alive here, the job
		// path below didn't reach a clean Finish (error return), so
		// kill+reap it and remove the half-written temp, per spec
		// section 4.7's failure semantics and section 9's cancellation
		// contract.
		if child != nil {
			child.Kill()
		}
		if _, statErr := os.Stat(tempPath); statErr == nil {
			_ = s.Store.Mgr.Remove(ctx, tempPath)
		}
	}()

	job := &httpjob.Job{
		Client: s.Client,
		Method: http.MethodGet,
		URL:    fmt.Sprintf("https://%s/v1/images/%s/layer", s.endpoints[0], layer),
		Mode:   httpjob.Streamed,
		Token:  s.token,
		OnOpenDisk: func() (io.Writer, error) {
			if err := os.MkdirAll(filepath.Dir(tempPath), 0o700); err != nil {
				return nil, dkrerr.Wrap(dkrerr.IoError, "pull.downloadLayer", err)
			}
			if cursor > 0 && s.Store.Exists(ancestry[cursor-1]) {
				if err := s.Store.Mgr.Snapshot(ctx, s.Store.FinalPath(ancestry[cursor-1]), tempPath, true); err != nil {
					return nil, err
				}
			} else if err := s.Store.Mgr.Make(ctx, tempPath); err != nil {
				return nil, err
			}

			snap, err := whiteout.Snapshot(tempPath)
			if err != nil {
				return nil, err
			}
			inherited = snap

			c, err := extract.Spawn(ctx, tempPath)
			if err != nil {
				return nil, err
			}
			child = c
			return c.Sink(), nil
		},
		OnProgress: func(p int) {
			s.reportDownloadProgress(cursor, len(ancestry), p)
		},
	}

	if _, err := job.Run(ctx); err != nil {
		return err
	}

	if err := child.Finish(); err != nil {
		return err
	}
	child = nil // reaped cleanly; defer's Kill is now a no-op path

	if err := whiteout.Resolve(tempPath, inherited); err != nil {
		return err
	}

	if err := s.Store.Seal(ctx, layer, tempPath); err != nil {
		if dkrerr.Is(err, dkrerr.ConflictError) {
			logger.Infof(ctx, "layer sealed by a concurrent pull, treating as success: %s", layer)
			return nil
		}
		return err
	}
	return nil
}

// runFinalize is the FINALIZE state: optionally materialize a local
// working copy.
func (s *Session) runFinalize(ctx context.Context, imageID string, metadataJSON []byte, opts Options) error {
	s.Tracker.OnEvent(progress.Event{Phase: progress.PhaseCopying, Percent: computePercent(phaseCopying, 0, 0, 0, 0)})

	metaPath := s.Store.FinalPath(imageID) + ".json"
	if _, err := os.Stat(metaPath); err != nil {
		if err := os.WriteFile(metaPath, metadataJSON, 0o644); err != nil {
			return dkrerr.Wrap(dkrerr.IoError, "pull.runFinalize", err)
		}
	}

	if opts.Local == "" {
		return nil
	}
	dst := filepath.Join(s.Store.Root, opts.Local)
	return s.Store.Materialize(ctx, imageID, dst, opts.Force)
}

func (s *Session) reportDownloadProgress(cursor, nAncestry, jobPercent int) {
	s.Tracker.OnEvent(progress.Event{
		Phase:   progress.PhaseDownloading,
		Percent: computePercent(phaseDownloading, cursor, nAncestry, jobPercent, 0),
	})
}

func (s *Session) phaseProgress(phase phaseKind, secondJobPercent int) func(int) {
	var pr progress.Phase
	switch phase {
	case phaseSearching:
		pr = progress.PhaseSearching
	case phaseResolving:
		pr = progress.PhaseResolving
	}
	return func(p int) {
		s.Tracker.OnEvent(progress.Event{Phase: pr, Percent: computePercent(phase, 0, 0, p, secondJobPercent)})
	}
}
