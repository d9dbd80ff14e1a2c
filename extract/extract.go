// Package extract spawns the tar child process the download loop pipes
// a layer's tar stream into, per spec section 4.5.
package extract

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/importd/dkrimport/dkrerr"
)

// Child is one tar extraction subprocess, write end of its input pipe
// held by the caller.
type Child struct {
	cmd      *exec.Cmd
	sink     *os.File
	waitOnce sync.Once
	waitErr  error
}

// Spawn forks `tar -x -C dir`, returning the write end of a pipe feeding
// its stdin. The child's own read end is a dup made by exec.Cmd; the
// parent's copy of the read end is closed once the child has started.
func Spawn(ctx context.Context, dir string) (*Child, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.ResourceError, "extract.Spawn", err)
	}

	cmd := exec.CommandContext(ctx, "tar", "-x", "-C", dir)
	cmd.Stdin = pr

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, dkrerr.Wrap(dkrerr.IoError, "extract.Spawn", err)
	}
	_ = pr.Close() // parent doesn't need the read end once the child owns its dup

	return &Child{cmd: cmd, sink: pw}, nil
}

// Sink is the pipe write end; the HTTP job's on_open_disk callback sets
// this as the download's destination fd.
func (c *Child) Sink() *os.File { return c.sink }

// Finish closes the sink (signalling EOF to tar) and awaits the child.
// A non-zero exit or a signal both map to ExtractionError.
func (c *Child) Finish() error {
	_ = c.sink.Close()
	if err := c.wait(); err != nil {
		return dkrerr.Wrap(dkrerr.ExtractionError, "extract.Finish", err)
	}
	return nil
}

// Kill terminates the child immediately and reaps it; used during
// teardown of an aborted download. Safe to call even if Finish already
// ran.
func (c *Child) Kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.sink.Close()
	_ = c.wait()
}

func (c *Child) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}
