// Package registry implements the lazy-loading, reference-counted cache of
// resident boards.
//
// A board becomes resident on the first GetOrLoad for its name and stays
// resident while at least one session is a member. When the last member
// leaves, the board is removed from the registry and saved. Loads are
// single-flight per name: concurrent callers share one store Load and observe
// the same *board.Board. A load for a name whose eviction save is still in
// flight waits for that save, so a quick rejoin always reads the saved state.
//
// Concurrency Model:
//   - mu guards boards and saving; membership changes and the empty check
//     happen under one critical section
//   - store I/O never runs while mu is held
//   - loads are deduplicated with singleflight keyed by board name
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
	"github.com/dyluth/easel/internal/metrics"
	"github.com/dyluth/easel/pkg/board"
)

type entry struct {
	board   *board.Board
	members map[string]struct{}
}

// Registry is the board session registry. Construct with New.
type Registry struct {
	store   board.Store
	logger  pslog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	boards map[string]*entry
	saving map[string]chan struct{}
	loads  singleflight.Group
}

// New builds a registry over store. logger and m may be nil.
func New(store board.Store, logger pslog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		logger:  loggingutil.WithSubsystem(logger, "registry"),
		metrics: m,
		boards:  make(map[string]*entry),
		saving:  make(map[string]chan struct{}),
	}
}

func (r *Registry) resident(name string) *board.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.boards[name]; ok {
		return e.board
	}
	return nil
}

// GetOrLoad returns the resident board for name, loading it if necessary.
// Concurrent callers for the same name never trigger a second load. The load
// itself is not cancelled when ctx is; ctx only bounds this caller's wait.
func (r *Registry) GetOrLoad(ctx context.Context, name string) (*board.Board, error) {
	return r.getOrLoad(ctx, name, false)
}

// getOrLoad backs GetOrLoad. A joining caller that stops waiting hands the
// load to reapAbandoned so the board does not stay resident without members.
func (r *Registry) getOrLoad(ctx context.Context, name string, joining bool) (*board.Board, error) {
	if b := r.resident(name); b != nil {
		return b, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := r.loads.DoChan(name, func() (any, error) {
		return r.load(loadCtx, name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*board.Board), nil
	case <-ctx.Done():
		if joining {
			go r.reapAbandoned(name, ch)
		}
		return nil, ctx.Err()
	}
}

// reapAbandoned waits for a load nobody is waiting on any more and drops the
// board again unless a session joined it meanwhile. Only members mutate a
// board, so nothing needs saving.
func (r *Registry) reapAbandoned(name string, ch <-chan singleflight.Result) {
	res := <-ch
	if res.Err != nil {
		return
	}
	b := res.Val.(*board.Board)

	r.mu.Lock()
	e, ok := r.boards[name]
	if !ok || e.board != b || len(e.members) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.boards, name)
	resident := len(r.boards)
	r.mu.Unlock()

	r.metrics.BoardEvicted(resident, nil)
	r.logger.Debug("registry.evicted_unjoined", "board", name)
}

func (r *Registry) load(ctx context.Context, name string) (*board.Board, error) {
	r.mu.Lock()
	if e, ok := r.boards[name]; ok {
		r.mu.Unlock()
		return e.board, nil
	}
	saving := r.saving[name]
	r.mu.Unlock()

	if saving != nil {
		r.logger.Debug("registry.load.wait_save", "board", name)
		<-saving
	}

	b, err := r.store.Load(ctx, name)
	if err != nil {
		r.logger.Warn("registry.load.error", "board", name, "error", err)
		return nil, fmt.Errorf("failed to load board %q: %w", name, err)
	}

	r.mu.Lock()
	r.boards[name] = &entry{board: b, members: make(map[string]struct{})}
	resident := len(r.boards)
	r.mu.Unlock()

	r.metrics.BoardLoaded(resident)
	r.logger.Info("registry.loaded", "board", name, "objects", b.Len())
	return b, nil
}

// Join resolves name and registers sessionID as a member. If the board is
// evicted between resolution and registration the board is resolved again.
func (r *Registry) Join(ctx context.Context, name, sessionID string) (*board.Board, error) {
	for {
		b, err := r.getOrLoad(ctx, name, true)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if e, ok := r.boards[name]; ok && e.board == b {
			e.members[sessionID] = struct{}{}
			members := len(e.members)
			r.mu.Unlock()
			r.logger.Debug("registry.joined", "board", name, "session", sessionID, "members", members)
			return b, nil
		}
		r.mu.Unlock()
		r.logger.Debug("registry.join.retry", "board", name, "session", sessionID)
	}
}

// Leave removes sessionID from name's members. When that leaves the board
// without members it is evicted and saved, exactly once per transition.
// Leaving a board that is not resident, or that sessionID never joined, is a
// no-op.
func (r *Registry) Leave(ctx context.Context, name, sessionID string) error {
	r.mu.Lock()
	e, ok := r.boards[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if _, member := e.members[sessionID]; !member {
		r.mu.Unlock()
		return nil
	}
	delete(e.members, sessionID)
	if len(e.members) > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.boards, name)
	done := make(chan struct{})
	r.saving[name] = done
	resident := len(r.boards)
	r.mu.Unlock()

	err := r.store.Save(context.WithoutCancel(ctx), e.board)

	r.mu.Lock()
	delete(r.saving, name)
	r.mu.Unlock()
	close(done)

	r.metrics.BoardEvicted(resident, err)
	if err != nil {
		r.logger.Error("registry.save.error", "board", name, "error", err)
		return fmt.Errorf("failed to save board %q: %w", name, err)
	}
	r.logger.Info("registry.evicted", "board", name, "objects", e.board.Len())
	return nil
}

// Resident reports whether name is currently loaded.
func (r *Registry) Resident(name string) bool {
	return r.resident(name) != nil
}

// Members returns the sorted session ids joined to name.
func (r *Registry) Members(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BoardStats describes one resident board.
type BoardStats struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Objects int    `json:"objects"`
}

// Stats summarizes the registry.
type Stats struct {
	Boards  int          `json:"boards"`
	Members int          `json:"members"`
	Detail  []BoardStats `json:"detail"`
}

// Stats returns the resident boards and their (non-unique) member counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	detail := make([]BoardStats, 0, len(r.boards))
	for name, e := range r.boards {
		detail = append(detail, BoardStats{Name: name, Members: len(e.members), Objects: e.board.Len()})
	}
	r.mu.Unlock()

	sort.Slice(detail, func(i, j int) bool { return detail[i].Name < detail[j].Name })
	stats := Stats{Boards: len(detail), Detail: detail}
	for _, d := range detail {
		stats.Members += d.Members
	}
	return stats
}

// Flush saves every resident board without evicting it. Used on shutdown.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	boards := make([]*board.Board, 0, len(r.boards))
	for _, e := range r.boards {
		boards = append(boards, e.board)
	}
	r.mu.Unlock()

	var firstErr error
	for _, b := range boards {
		if err := r.store.Save(ctx, b); err != nil {
			r.logger.Error("registry.flush.error", "board", b.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to flush board %q: %w", b.Name(), err)
			}
		}
	}
	r.logger.Info("registry.flushed", "boards", len(boards))
	return firstErr
}
