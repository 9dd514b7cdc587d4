// Package source acquires upstream library sources into a shared on-disk
// checkout cache, keyed by repository. Acquisition is idempotent: a checkout
// already at the requested commit is reused without touching the network or
// the tree.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/libforge/libforge/internal/fsx"
	"github.com/libforge/libforge/internal/library"
)

// Error reports a fetch or checkout failure. It is fatal for the affected
// library's build units only.
type Error struct {
	Library library.Library
	Ref     string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s@%s: %s: %v", e.Library, e.Ref, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RunFunc executes git with args inside dir and returns trimmed stdout.
// It exists so tests can substitute a recording implementation.
type RunFunc func(ctx context.Context, dir string, args ...string) (string, error)

// Provider owns the checkout cache directory. Concurrent Acquire calls for
// the same (library, ref) are serialized; unrelated libraries proceed in
// parallel.
type Provider struct {
	dir string
	run RunFunc
	log *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithRunner substitutes the git execution function.
func WithRunner(run RunFunc) Option {
	return func(p *Provider) { p.run = run }
}

// NewProvider returns a Provider rooted at dir.
func NewProvider(dir string, log *zap.SugaredLogger, opts ...Option) *Provider {
	p := &Provider{
		dir:   dir,
		run:   execGit,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dir returns the cache root.
func (p *Provider) Dir() string { return p.dir }

// CheckoutDir returns the checkout location for lib inside the cache.
func (p *Provider) CheckoutDir(lib library.Library) string {
	return filepath.Join(p.dir, lib.Repo())
}

func (p *Provider) lockFor(lib library.Library, ref string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := string(lib) + "@" + ref
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// Acquire ensures a local checkout of lib at ref and returns its path.
// An existing checkout is reused when its HEAD already resolves to the
// commit named by ref; otherwise the repository is cloned or refreshed and
// the ref checked out onto a pristine tree.
func (p *Provider) Acquire(ctx context.Context, lib library.Library, url, ref string) (string, error) {
	lock := p.lockFor(lib, ref)
	lock.Lock()
	defer lock.Unlock()

	dir := p.CheckoutDir(lib)
	fail := func(op string, err error) (string, error) {
		return "", &Error{Library: lib, Ref: ref, Op: op, Err: err}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		p.log.Infof("cloning %s from %s", lib, url)
		if err := os.MkdirAll(p.dir, 0o755); err != nil {
			return fail("mkdir", err)
		}
		if _, err := p.run(ctx, "", "clone", url, dir); err != nil {
			return fail("clone", err)
		}
	} else {
		head, err := p.run(ctx, dir, "rev-parse", "HEAD")
		if err != nil {
			return fail("rev-parse HEAD", err)
		}
		want, err := p.resolve(ctx, dir, ref)
		if err == nil && head == want {
			p.log.Debugf("reusing %s checkout at %s (%s)", lib, dir, head)
			return dir, nil
		}
		// Stale or unresolvable: refresh refs so moving tags re-resolve.
		if _, err := p.run(ctx, dir, "fetch", "--tags", "--force", "origin"); err != nil {
			return fail("fetch", err)
		}
		if head, err = p.run(ctx, dir, "rev-parse", "HEAD"); err == nil {
			if want, werr := p.resolve(ctx, dir, ref); werr == nil && head == want {
				return dir, nil
			}
		}
	}

	if err := p.preserve(lib, dir, func() error {
		if _, err := p.run(ctx, dir, "checkout", ref); err != nil {
			return err
		}
		if _, err := p.run(ctx, dir, "reset", "--hard"); err != nil {
			return err
		}
		_, err := p.run(ctx, dir, "clean", "-fdx")
		return err
	}); err != nil {
		return fail("checkout", err)
	}
	p.log.Infof("checked out %s at %s", lib, ref)
	return dir, nil
}

// resolve maps ref to a commit hash using the local object store.
func (p *Provider) resolve(ctx context.Context, dir, ref string) (string, error) {
	return p.run(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
}

// preserve caches the library's declared preserve globs, runs fn, then
// restores them. libopus keeps its model tarball across pristine cleans so
// autogen does not re-download it.
func (p *Provider) preserve(lib library.Library, dir string, fn func() error) error {
	info, _ := library.Lookup(lib)
	if len(info.PreserveGlobs) == 0 {
		return fn()
	}

	cacheDir := filepath.Join(p.dir, ".preserve", lib.Repo())
	for _, glob := range info.PreserveGlobs {
		matches, err := filepath.Glob(filepath.Join(dir, glob))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := fsx.CopyFile(m, filepath.Join(cacheDir, filepath.Base(m))); err != nil {
				return err
			}
			p.log.Debugf("preserved %s", filepath.Base(m))
		}
	}

	if err := fn(); err != nil {
		return err
	}

	for _, glob := range info.PreserveGlobs {
		matches, err := filepath.Glob(filepath.Join(cacheDir, glob))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := fsx.CopyFile(m, filepath.Join(dir, filepath.Base(m))); err != nil {
				return err
			}
			p.log.Debugf("restored %s", filepath.Base(m))
		}
	}
	return nil
}

// Clean removes the entire checkout cache.
func (p *Provider) Clean() error {
	return os.RemoveAll(p.dir)
}

// execGit runs the real git binary.
func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := runCommand(ctx, dir, "git", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
