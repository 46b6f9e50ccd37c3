// ABOUTME: Entity store for registry nodes, edges and series on the B+Tree KV
// ABOUTME: Opens the page file and its WAL, replays the journal, then journals every commit

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/storage"
	"github.com/nainya/modelregistry/pkg/wal"
)

// Observer receives one call per store operation
type Observer interface {
	ObserveOperation(op, kind string, d time.Duration, err error)
	ObserveCheckpoint(res wal.CheckpointResult, err error)
}

// Options configures Open
type Options struct {
	// Path of the page file
	Path string
	// WALDir holds the journal; defaults to the directory of Path
	WALDir string
	// CheckpointInterval enables background checkpoints when positive
	CheckpointInterval time.Duration
	// Limits bounds list page sizes
	Limits query.Limits

	Logger   zerolog.Logger
	Observer Observer
	// Now overrides the clock
	Now func() time.Time
}

// Store is the registry's entity store
type Store struct {
	kv           *storage.KV
	wal          *wal.WAL
	checkpointer *wal.Checkpointer
	stopCheckpts context.CancelFunc
	checkptsDone chan struct{}

	limits   query.Limits
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time

	typesMu sync.RWMutex
	types   map[string]int64

	closeOnce sync.Once
}

// Open opens or creates a store. Journal entries that did not reach the
// page file before a crash are replayed before Open returns.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errdefs.InvalidArgument("store path is required")
	}
	if opts.WALDir == "" {
		opts.WALDir = filepath.Dir(opts.Path)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		kv:       &storage.KV{Path: opts.Path},
		wal:      &wal.WAL{Path: filepath.Join(opts.WALDir, filepath.Base(opts.Path)+".wal")},
		limits:   opts.Limits,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
		types:    make(map[string]int64),
	}

	if err := s.kv.Open(); err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	if err := s.wal.Open(); err != nil {
		s.kv.Close()
		return nil, fmt.Errorf("open wal: %w", err)
	}

	stats, err := wal.Replay(s.wal, s.kv)
	if err != nil {
		s.wal.Close()
		s.kv.Close()
		return nil, fmt.Errorf("recover: %w", err)
	}
	s.logger.Info().
		Int("entries", stats.TotalEntries).
		Int("committed", stats.CommittedTxns).
		Int("uncommitted", stats.UncommittedTxns).
		Int("aborted", stats.AbortedTxns).
		Int("replayed_ops", stats.ReplayedOperations).
		Msg("WAL recovery complete")

	s.checkpointer = wal.NewCheckpointer(s.wal, s.flush)
	s.checkpointer.Notify = s.onCheckpoint

	// Replayed state is on the page file now; start from a clean journal
	if err := s.Checkpoint(); err != nil {
		s.wal.Close()
		s.kv.Close()
		return nil, err
	}
	s.kv.Journal = wal.NewJournal(s.wal)

	if err := s.loadTypes(); err != nil {
		s.wal.Close()
		s.kv.Close()
		return nil, err
	}

	if opts.CheckpointInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopCheckpts = cancel
		s.checkptsDone = make(chan struct{})
		go func() {
			defer close(s.checkptsDone)
			s.checkpointer.Run(ctx, opts.CheckpointInterval)
		}()
	}
	return s, nil
}

// Close stops background work and closes the journal and page file
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopCheckpts != nil {
			s.stopCheckpts()
			<-s.checkptsDone
		}
		if werr := s.wal.Close(); werr != nil {
			err = werr
		}
		if kerr := s.kv.Close(); kerr != nil && err == nil {
			err = kerr
		}
	})
	return err
}

// Checkpoint drops journal files whose transactions are on the page file
func (s *Store) Checkpoint() error {
	_, err := s.checkpointer.Checkpoint()
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// flush waits out any writer. Commits are fsynced to the page file before
// they return, so holding the writer lock is enough to make the journal
// redundant up to this point.
func (s *Store) flush() error {
	tx := s.kv.Begin()
	tx.Abort()
	return nil
}

func (s *Store) onCheckpoint(res wal.CheckpointResult, err error) {
	if err != nil {
		s.logger.Error().Err(err).Msg("checkpoint failed")
	} else {
		s.logger.Debug().
			Uint64("lsn", res.LSN).
			Int("files_removed", res.FilesRemoved).
			Dur("duration", res.Duration).
			Msg("checkpoint complete")
	}
	if s.observer != nil {
		s.observer.ObserveCheckpoint(res, err)
	}
}

// observe reports an operation to the observer. Use as
// defer s.observe("put", kind, time.Now(), &err).
func (s *Store) observe(op, kind string, start time.Time, errp *error) {
	if s.observer != nil {
		s.observer.ObserveOperation(op, kind, time.Since(start), *errp)
	}
}

// Limits returns the page size limits of the store
func (s *Store) Limits() query.Limits {
	return s.limits
}

// nowMillis returns the current time in Unix milliseconds
func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// RegisterType registers an entity kind and returns its id. Registering an
// existing kind returns the same id.
func (s *Store) RegisterType(ctx context.Context, name string) (id int64, err error) {
	defer s.observe("register_type", name, time.Now(), &err)

	if name == "" || len(name) > MaxNameSize {
		return 0, errdefs.InvalidArgument("type name %q", name)
	}
	if id, ok := s.typeID(name); ok {
		return id, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err = s.kv.Update(func(tx *storage.KVTX) error {
		if val, ok := tx.Get(typeKey(name)); ok {
			id, _ = decodeID(val)
			return nil
		}
		id = nextSeq(tx, seqType)
		tx.Set(typeKey(name), encodeID(id))
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.typesMu.Lock()
	s.types[name] = id
	s.typesMu.Unlock()
	return id, nil
}

func (s *Store) typeID(name string) (int64, bool) {
	s.typesMu.RLock()
	defer s.typesMu.RUnlock()
	id, ok := s.types[name]
	return id, ok
}

func (s *Store) mustType(name string) (int64, error) {
	id, ok := s.typeID(name)
	if !ok {
		return 0, errdefs.TypeNotFound("kind %q", name)
	}
	return id, nil
}

// Types returns the registered kinds
func (s *Store) Types() []string {
	s.typesMu.RLock()
	defer s.typesMu.RUnlock()
	out := make([]string, 0, len(s.types))
	for name := range s.types {
		out = append(out, name)
	}
	return out
}

func (s *Store) loadTypes() error {
	prefix := storage.EncodeKey(PREFIX_TYPE, nil)
	return s.kv.View(func(r storage.Reader) error {
		var err error
		scanPrefix(r, prefix, func(key, val []byte) bool {
			vals, derr := storage.ExtractValues(key)
			id, ok := decodeID(val)
			if derr != nil || len(vals) != 1 || !ok {
				err = fmt.Errorf("corrupt type entry")
				return false
			}
			s.types[string(vals[0].Str)] = id
			return true
		})
		return err
	})
}

// nextSeq returns the next value of a persisted counter, starting at 1
func nextSeq(tx *storage.KVTX, name string) int64 {
	var next int64 = 1
	if val, ok := tx.Get(seqKey(name)); ok {
		if cur, ok := decodeID(val); ok {
			next = cur + 1
		}
	}
	tx.Set(seqKey(name), encodeID(next))
	return next
}

// KindStats counts the nodes of one kind
type KindStats struct {
	Kind  string
	Count int
}

// Stats summarizes the store
type Stats struct {
	Kinds   []KindStats
	Storage storage.Stats
	LastLSN uint64
}

// Stats counts nodes per kind and reports page file usage
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.typesMu.RLock()
	types := make(map[string]int64, len(s.types))
	for k, v := range s.types {
		types[k] = v
	}
	s.typesMu.RUnlock()

	st := &Stats{}
	err := s.kv.View(func(r storage.Reader) error {
		for name, typeID := range types {
			count := 0
			prefix := storage.EncodeKey(PREFIX_ORDER_ID, []storage.Value{i64(typeID), i64(0)})
			scanPrefix(r, prefix, func(key, val []byte) bool {
				count++
				return true
			})
			st.Kinds = append(st.Kinds, KindStats{Kind: name, Count: count})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(st.Kinds, func(i, j int) bool { return st.Kinds[i].Kind < st.Kinds[j].Kind })

	st.Storage = s.kv.Stats()
	st.LastLSN = s.wal.LastLSN()
	return st, nil
}
