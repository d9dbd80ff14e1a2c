package images

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/importd/dkrimport/cmd/core"
	"github.com/importd/dkrimport/config"
	"github.com/importd/dkrimport/layerstore"
	"github.com/importd/dkrimport/lock/flock"
	"github.com/importd/dkrimport/progress"
	"github.com/importd/dkrimport/pull"
	"github.com/importd/dkrimport/refindex"
	"github.com/importd/dkrimport/snapshot"
)

// Handler implements Actions against the pull/layerstore/refindex
// packages: the same split the teacher keeps between its cobra layer
// (thin, cmd/) and its backend packages (images/oci, images/cloudimg).
type Handler struct {
	cmdcore.BaseHandler
}

// stores builds the layer store and ref index for one invocation. A
// Handler is stateless between commands; everything it needs is
// rebuilt from conf each call.
func (h Handler) stores(conf *config.Config) (*layerstore.Store, *refindex.Store) {
	store := layerstore.New(conf.RootDir, snapshot.NewBtrfs(), flock.New(conf.LockPath()))
	idx := refindex.New(conf.RefIndexLock(), conf.RefIndexFile())
	return store, idx
}

func (h Handler) Pull(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	local, _ := cmd.Flags().GetString("local")
	force, _ := cmd.Flags().GetBool("force")

	name, tag := splitRef(args[0])
	logger := log.WithFunc("cmd.images.Pull")

	store, idx := h.stores(conf)
	client := &http.Client{Timeout: conf.HTTPTimeout}
	tracker := progress.NewTracker(newProgressPrinter(func(format string, args ...any) { logger.Infof(ctx, format, args...) }))
	sess, err := pull.New(conf.IndexURL, store, client, tracker)
	if err != nil {
		return err
	}

	imageID, err := sess.Pull(ctx, pull.Options{Name: name, Tag: tag, Local: local, Force: force})
	if err != nil {
		return fmt.Errorf("pull %s:%s: %w", name, tag, err)
	}
	if err := idx.Record(ctx, name, tag, imageID, time.Now()); err != nil {
		return fmt.Errorf("record ref: %w", err)
	}
	logger.Infof(ctx, "pulled %s:%s -> %s", name, tag, imageID)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	store, idx := h.stores(conf)

	refs, err := idx.List(ctx)
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}
	if len(refs) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REF\tIMAGE ID\tSIZE\tCREATED")
	for ref, entry := range refs {
		size, sizeErr := store.Size(entry.ImageID)
		sizeStr := "-"
		if sizeErr == nil {
			sizeStr = cmdcore.FormatSize(size)
		}
		digest := entry.ImageID
		if len(digest) > 19 {
			digest = digest[:19]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ref, digest, sizeStr, entry.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// RM removes the named refs from the index, then deletes any image id
// left with no remaining ref pointing at it — several tags can share
// one sealed image id, so the id is only reclaimed once orphaned.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.images.RM")
	store, idx := h.stores(conf)

	before, err := idx.List(ctx)
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}

	deletedRefs, err := idx.Delete(ctx, args)
	if err != nil {
		return fmt.Errorf("delete refs: %w", err)
	}
	if len(deletedRefs) == 0 {
		logger.Info(ctx, "no matching images found")
		return nil
	}
	for _, ref := range deletedRefs {
		logger.Infof(ctx, "removed ref: %s", ref)
	}

	after, err := idx.List(ctx)
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}
	stillReferenced := make(map[string]bool, len(after))
	for _, e := range after {
		stillReferenced[e.ImageID] = true
	}
	for _, ref := range deletedRefs {
		imageID := before[ref].ImageID
		if stillReferenced[imageID] {
			continue
		}
		if err := store.Delete(ctx, imageID); err != nil {
			logger.Warnf(ctx, "delete image %s: %v", imageID, err)
		} else {
			logger.Infof(ctx, "deleted image: %s", imageID)
		}
	}
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	store, idx := h.stores(conf)

	ref := args[0]
	_, entry, ok, err := idx.Lookup(ctx, ref)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", ref, err)
	}
	if !ok {
		return fmt.Errorf("image %q not found", ref)
	}

	raw, err := store.ReadMetadata(entry.ImageID)
	if err != nil {
		return fmt.Errorf("read metadata for %s: %w", entry.ImageID, err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		// Metadata isn't a JSON object (e.g. an array); fall back to raw bytes.
		_, err := os.Stdout.Write(append(raw, '\n'))
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

// newProgressPrinter returns the pull progress callback. An interactive
// terminal gets a single overwritten line (carriage-return, no
// newline); anything else (a log file, a pipe) gets one log line per
// phase transition so the output stays readable when grepped. Every
// event is also reported to the process supervisor via sd_notify's
// X_IMPORT_PROGRESS protocol (spec section 6's "Progress channel"),
// the same mechanism the original notifies with
// (`sd_notifyf(false, "X_IMPORT_PROGRESS=%u", percent)`); off a
// NOTIFY_SOCKET, daemon.SdNotify is a no-op.
func newProgressPrinter(infof func(string, ...any)) func(progress.Event) {
	display := terminalPrinter()
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		display = logPrinter(infof)
	}
	return func(e progress.Event) {
		display(e)
		_, _ = daemon.SdNotify(false, fmt.Sprintf("X_IMPORT_PROGRESS=%d", e.Percent))
	}
}

func terminalPrinter() func(progress.Event) {
	return func(e progress.Event) {
		fmt.Printf("\r%-12s %3d%%", e.Phase, e.Percent)
		if e.Phase == progress.PhaseCopying && e.Percent >= 95 { //nolint:mnd
			fmt.Println()
		}
	}
}

func logPrinter(infof func(string, ...any)) func(progress.Event) {
	lastPhase := progress.Phase(-1)
	return func(e progress.Event) {
		if e.Phase == lastPhase {
			return
		}
		lastPhase = e.Phase
		infof("%s: %d%%", e.Phase, e.Percent)
	}
}

// splitRef splits "name[:tag]" into (name, tag), defaulting tag to
// "latest" per spec section 6, the same default pull.validateOptions
// applies if Tag is left empty.
func splitRef(ref string) (string, string) {
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, "latest"
}
