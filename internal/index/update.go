package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/canopyhq/canopy/internal/checksum"
	"github.com/canopyhq/canopy/internal/parser"
	"github.com/canopyhq/canopy/internal/storage"
)

// Sync walks the notebook and brings the index up to date:
//   - new and changed files are parsed and upserted
//   - pages whose files are gone are removed
//
// Reading and parsing fan out over a worker pool; the results are applied
// serially under the writer lock, so listeners still see one coherent
// stream of change events.
func Sync(ctx context.Context, ix *Index, store storage.Provider, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	metas, err := store.List("")
	if err != nil {
		return err
	}
	checksums, err := ix.AllChecksums()
	if err != nil {
		return err
	}

	type fileRef struct {
		name string
		path string
	}
	var dirty []fileRef
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		name := storage.PageName(m.Path)
		if name == "" {
			continue
		}
		disk[name] = struct{}{}
		if checksums[name] == m.Checksum {
			continue
		}
		dirty = append(dirty, fileRef{name: name, path: m.Path})
	}

	if len(dirty) > 0 {
		type parsed struct {
			name string
			sum  string
			res  *parser.Result
			err  error
		}

		pool, err := ants.NewPool(min(runtime.NumCPU(), len(dirty)))
		if err != nil {
			return fmt.Errorf("index: sync pool: %w", err)
		}
		defer pool.Release()

		out := make(chan parsed, len(dirty))
		var wg sync.WaitGroup
		for _, ref := range dirty {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				data, err := store.Read(ref.path)
				if err != nil {
					out <- parsed{name: ref.name, err: err}
					return
				}
				res, err := parser.Parse(data)
				if err != nil {
					out <- parsed{name: ref.name, err: err}
					return
				}
				out <- parsed{name: ref.name, sum: checksum.Sum(data), res: res}
			}
			if err := pool.Submit(task); err != nil {
				wg.Done()
				out <- parsed{name: ref.name, err: err}
			}
		}
		go func() {
			wg.Wait()
			close(out)
		}()

		for p := range out {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.err != nil {
				logger.Warn("sync: parse failed",
					slog.String("page", p.name),
					slog.String("error", p.err.Error()))
				continue
			}
			if err := ix.applyParsed(p.name, p.sum, p.res); err != nil {
				logger.Warn("sync: index failed",
					slog.String("page", p.name),
					slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: indexed", slog.String("page", p.name))
			}
		}
	}

	// Remove pages whose files are gone. Demotion and placeholder pruning
	// inside DeletePage keep the tree consistent whatever order the
	// removals land in.
	for name := range checksums {
		if _, ok := disk[name]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.DeletePage(name); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			logger.Warn("sync: delete failed",
				slog.String("page", name),
				slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("page", name))
		}
	}
	return nil
}
