// Package batch fans independent function decompiles out across workers,
// per §5's concurrency model: the core itself is single-threaded and a
// Funcdata's mutable state (bank, type factory, iop registry) must never
// be shared across goroutines, so the only safe way to decompile many
// functions at once is to give each one its own Funcdata and type
// factory and run them side by side. Grounded on §5's "work distributor
// gives each worker its own Funcdata and type factory" note; the fan-out
// itself uses golang.org/x/sync/errgroup the way the rest of this module
// reaches for an ecosystem library instead of a hand-rolled worker pool.
package batch

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sentra-lang/pcodec/internal/config"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// Job describes one function to decompile: its name, the actions to run
// against its own Funcdata, and the maximum base type size to build its
// TypeFactory with.
type Job struct {
	Name string
	// MaxBaseTypeSize caps the TypeFactory's base-type size; 0 defers to
	// config.Load's ArchConfig rather than an arbitrary literal.
	MaxBaseTypeSize int
	Actions         []funcdata.Action

	// Build populates the function's p-code bank and block graph before
	// Actions run (parsing/translating raw bytes into ops is outside
	// this module's scope per §1; Build is the caller's hook for it).
	Build func(fd *funcdata.Funcdata) error
}

// Result is one Job's outcome: the fully rewritten Funcdata on success,
// or the error RunActions (or Build) returned.
type Result struct {
	Name string
	FD   *funcdata.Funcdata
	Err  error
}

// DecompileAll runs every job concurrently, each against its own
// Funcdata/TypeFactory, and returns one Result per job in the same order
// jobs were given (errgroup only controls fan-out/error propagation; the
// result slice's ordering is batch's own bookkeeping, since individual
// job failures are reported per-job rather than aborting the group).
//
// spaces is shared read-only address-space metadata (ground truth about
// what spaces exist), safe to read concurrently since no job mutates it.
// limit caps concurrent workers; 0 means errgroup's own default (no
// cap).
func DecompileAll(ctx context.Context, spaces *pcode.SpaceManager, jobs []Job, limit int) ([]Result, error) {
	archCfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "batch: loading arch config")
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			maxBaseTypeSize := job.MaxBaseTypeSize
			if maxBaseTypeSize <= 0 {
				maxBaseTypeSize = archCfg.MaxBaseTypeSize
			}
			fd := funcdata.New(job.Name, spaces, maxBaseTypeSize)
			if job.Build != nil {
				if err := job.Build(fd); err != nil {
					results[i] = Result{Name: job.Name, FD: fd, Err: errors.Wrapf(err, "batch: building %q", job.Name)}
					return nil
				}
			}
			fd.Schedule(job.Actions...)
			if err := fd.RunActions(); err != nil {
				results[i] = Result{Name: job.Name, FD: fd, Err: errors.Wrapf(err, "batch: decompiling %q", job.Name)}
				return nil
			}
			results[i] = Result{Name: job.Name, FD: fd}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Failures filters results down to the ones that errored, preserving
// order — a convenience for callers that want to report every failing
// function in one pass rather than stopping at the first.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
