package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"cdcbridge/internal/cache"
	"cdcbridge/internal/invert"
	"cdcbridge/internal/sink"
	"cdcbridge/internal/upstream"
	"cdcbridge/pkg/cdc"
)

// TransformHost is the subset of internal/sandbox.Host the synchroniser
// depends on. Declared here, rather than depending on *sandbox.Host
// directly, so tests can script transform responses without compiling a
// real sandbox artifact.
type TransformHost interface {
	ProcessBlock(ctx context.Context, height uint32, hash []byte) (cdc.Batch, error)
	Rollback(ctx context.Context, targetHeight uint32, hash []byte) (cdc.Batch, error)
	Snapshot() *cdc.TransformState
	RestoreState(snapshot *cdc.TransformState)
}

// Config configures a Synchroniser. Zero values get defaults: starting
// height 0, a one-second poll interval, window 100.
type Config struct {
	StartHeight  uint32
	PollInterval time.Duration
	CacheWindow  uint32
	Source       string
	// SinkMaxRetries bounds how many times a transiently rejected batch is
	// re-sent before the attempt is abandoned for this iteration.
	SinkMaxRetries uint64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.CacheWindow == 0 {
		c.CacheWindow = 100
	}
	if c.Source == "" {
		c.Source = "cdcbridge"
	}
	if c.SinkMaxRetries == 0 {
		c.SinkMaxRetries = 5
	}
	return c
}

// Synchroniser is the control loop driving poll -> advance / reorg-detect
// -> process / unwind -> sink-emit. All sink sends, forward and unwind
// alike, are issued from its single loop goroutine in strict height order.
type Synchroniser struct {
	client  upstream.Client
	host    TransformHost
	sink    sink.Sink
	cache   *cache.Cache
	metrics *Metrics
	logger  *logrus.Logger
	cfg     Config

	mu            sync.RWMutex
	active        bool
	quit          chan struct{}
	done          chan struct{}
	currentHeight uint32
	started       bool
}

// New wires a Synchroniser from its collaborators. host must already have
// an artifact Loaded.
func New(client upstream.Client, host TransformHost, s sink.Sink, metrics *Metrics, logger *logrus.Logger, cfg Config) *Synchroniser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	cfg = cfg.withDefaults()
	return &Synchroniser{
		client:        client,
		host:          host,
		sink:          s,
		cache:         cache.New(cfg.CacheWindow),
		metrics:       metrics,
		logger:        logger,
		cfg:           cfg,
		currentHeight: cfg.StartHeight,
	}
}

// Metrics returns the Synchroniser's metric set, for wiring into an HTTP
// /metrics handler.
func (s *Synchroniser) Metrics() *Metrics { return s.metrics }

// CurrentHeight reports the last height fully processed and forwarded. Its
// value is meaningless until HasStarted is true.
func (s *Synchroniser) CurrentHeight() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentHeight
}

// HasStarted reports whether any block has been processed yet. CurrentHeight
// defaults to Config.StartHeight (0 unless configured otherwise), which is
// indistinguishable from "genesis already processed" unless this is
// consulted too: a fresh synchroniser must still process height
// Config.StartHeight itself, not Config.StartHeight+1.
func (s *Synchroniser) HasStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Start launches the polling loop in a background goroutine. It is a
// no-op if already running.
func (s *Synchroniser) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info("synchroniser started")
}

// Stop signals the loop to exit between iterations (never mid-batch),
// flushes and closes the sink, and waits for the loop goroutine to exit.
func (s *Synchroniser) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	close(s.quit)
	done := s.done
	s.active = false
	s.mu.Unlock()

	<-done
	s.logger.Info("synchroniser stopped")
}

func (s *Synchroniser) loop(ctx context.Context) {
	defer close(s.done)
	defer s.shutdownSink()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		default:
		}

		if err := s.Step(ctx); err != nil {
			if isFatal(err) {
				s.logger.WithFields(logrus.Fields{
					"component": "sync", "height": s.CurrentHeight(),
				}).WithError(err).Error("fatal error, shutting down")
				return
			}
			s.logger.WithError(err).Warn("synchroniser step failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Synchroniser) shutdownSink() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sink.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("sink flush on shutdown failed")
	}
	if err := s.sink.Close(); err != nil {
		s.logger.WithError(err).Warn("sink close on shutdown failed")
	}
}

func isFatal(err error) bool {
	return errors.Is(err, ErrReorgTooDeep) ||
		errors.Is(err, sink.ErrFatal) ||
		errors.Is(err, cache.ErrContiguityViolation)
}

// Step performs exactly one iteration of the poll / advance / reorg-probe
// state machine. It never sleeps; Start's loop supplies the polling
// interval. Step is exported so tests can drive scenarios deterministically.
func (s *Synchroniser) Step(ctx context.Context) error {
	tip, err := s.client.TipHeight(ctx)
	if err != nil {
		s.metrics.upstreamErrors.Inc()
		return fmt.Errorf("sync: poll tip height: %w", err)
	}
	actualCount, err := s.client.ActualBlockCount(ctx)
	if err != nil {
		s.metrics.upstreamErrors.Inc()
		return fmt.Errorf("sync: poll actual block count: %w", err)
	}

	target := tip
	if actualCount < target {
		target = actualCount
	}

	// The reorg check runs before any forward advance, regardless of
	// whether the live tip has moved past or fallen behind the current
	// height: a reorg can both shrink and extend the chain past where it
	// stood before, so gating this on target <= current would miss
	// reorgs where the replacement fork is already longer than the old
	// one. reorgProbe is a no-op (and cheap: one BlockHash call) when the
	// cached hash still matches, and itself re-advances to tip on unwind.
	if s.HasStarted() {
		if err := s.reorgProbe(ctx, tip); err != nil {
			return err
		}
	}

	current := s.CurrentHeight()

	// The upstream's tip can outrun its physically materialized block
	// count. Rather than stalling when target has fallen behind current,
	// still attempt to inch forward one block if the raw tip allows it.
	if tip > actualCount && actualCount <= current {
		nextHeight := current + 1
		if nextHeight <= tip {
			s.logger.WithFields(logrus.Fields{
				"tip": tip, "actual_count": actualCount, "current_height": current,
			}).Warn("tip/actual-count discrepancy, attempting single-block advance")
			return s.advance(ctx, nextHeight, nextHeight)
		}
	}

	from := current
	if s.HasStarted() {
		from = current + 1
	}
	if target >= from {
		return s.advance(ctx, from, target)
	}
	return nil
}

// advance processes every height in [from, to], in order.
func (s *Synchroniser) advance(ctx context.Context, from, to uint32) error {
	for h := from; h <= to; h++ {
		notReady, err := s.processBlock(ctx, h)
		if err != nil {
			return err
		}
		if notReady {
			return nil
		}
	}
	return nil
}

// processBlock fetches the hash at height, runs the transform, appends a
// cache entry, and forwards the emitted batch. A (true, nil) return means
// the block is not yet available upstream (tip-not-ready), not an error.
func (s *Synchroniser) processBlock(ctx context.Context, height uint32) (bool, error) {
	hash, err := s.client.BlockHash(ctx, height)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return true, nil
		}
		s.metrics.upstreamErrors.Inc()
		return false, fmt.Errorf("sync: fetch hash at %d: %w", height, err)
	}

	batch, err := s.host.ProcessBlock(ctx, height, hash)
	if err != nil {
		s.restoreWorkingState(height)
		return false, fmt.Errorf("%w: %v", ErrSandboxFault, err)
	}

	// The sink must accept the batch before a cache entry exists for this
	// height. A rejected send leaves no trace: the working state is
	// restored to the prior snapshot, so re-processing the block on the
	// next poll reproduces the identical batch.
	if len(batch) > 0 {
		if err := s.sendWithRetry(ctx, batch); err != nil {
			s.metrics.sinkSendErrors.Inc()
			s.restoreWorkingState(height)
			return false, fmt.Errorf("sync: send batch at %d: %w", height, err)
		}
	}

	snapshot := s.host.Snapshot()
	entry := cache.Entry{
		Metadata:      cdc.BlockMetadata{Height: height, Hash: cdc.EncodeHash(hash), TimestampMS: uint64(time.Now().UnixMilli())},
		Batch:         batch,
		StateSnapshot: snapshot,
	}
	if err := s.cache.Append(entry); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.currentHeight = height
	s.started = true
	s.mu.Unlock()

	s.metrics.blocksProcessed.Inc()
	s.metrics.currentHeightGauge.Set(float64(height))
	s.metrics.cacheSizeGauge.Set(float64(s.cache.Len()))
	s.logger.WithFields(logrus.Fields{"height": height, "hash": entry.Metadata.Hash, "component": "sync"}).Debug("processed block")
	return false, nil
}

// sendWithRetry delivers one batch, re-sending on transient sink rejection
// with bounded exponential backoff. Fatal sink errors and context
// cancellation surface immediately without retry.
func (s *Synchroniser) sendWithRetry(ctx context.Context, batch cdc.Batch) error {
	operation := func() error {
		err := s.sink.Send(ctx, batch)
		if err == nil {
			return nil
		}
		if errors.Is(err, sink.ErrTransient) {
			s.logger.WithError(err).Warn("sink rejected batch, retrying")
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.SinkMaxRetries)
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// restoreWorkingState puts the host's working TransformState back to the
// snapshot taken after failedHeight-1, so the failed block can be
// re-processed deterministically on the next poll without double-applying
// its state mutations. With nothing cached below failedHeight the engine is
// still at its starting point and the state resets to empty.
func (s *Synchroniser) restoreWorkingState(failedHeight uint32) {
	if failedHeight > 0 {
		if snap, ok := s.cache.StateSnapshot(failedHeight - 1); ok {
			s.host.RestoreState(snap)
			return
		}
	}
	if s.cache.Len() == 0 {
		s.host.RestoreState(cdc.NewTransformState())
	}
}

// reorgProbe re-fetches the hash at the current height and, on mismatch
// or fetch failure, unwinds to the highest common ancestor.
func (s *Synchroniser) reorgProbe(ctx context.Context, upTo uint32) error {
	current := s.CurrentHeight()

	entry, ok := s.cache.Get(current)
	if !ok {
		return nil
	}

	liveHash, err := s.client.BlockHash(ctx, current)
	if err == nil && cdc.EncodeHash(liveHash) == entry.Metadata.Hash {
		return nil
	}

	if err != nil {
		s.logger.WithError(err).WithField("height", current).Warn("failed to refetch current hash, possible deep reorg")
	} else {
		s.logger.WithFields(logrus.Fields{
			"height": current, "cached_hash": entry.Metadata.Hash, "live_hash": cdc.EncodeHash(liveHash),
		}).Warn("chain reorganization detected")
	}

	candidates, collectErr := s.collectCandidates(ctx, current)
	if collectErr != nil {
		return collectErr
	}

	ancestor, found := s.cache.FindCommonAncestor(candidates)
	if !found {
		floor, hasFloor := s.cache.Floor()
		if hasFloor && floor > 0 {
			return fmt.Errorf("%w: no ancestor within window (floor=%d)", ErrReorgTooDeep, floor)
		}
		// The cache still reaches genesis: the entire observed chain was
		// replaced, so every cached batch unwinds and processing restarts.
		return s.unwindAll(ctx, upTo)
	}

	return s.unwind(ctx, ancestor, upTo)
}

// collectCandidates gathers (height, hash) pairs for every height in
// [0, upTo] that the upstream can still resolve, skipping heights whose
// fetch fails: an unresolvable height simply cannot be a common ancestor.
func (s *Synchroniser) collectCandidates(ctx context.Context, upTo uint32) ([]cache.HashAtHeight, error) {
	candidates := make([]cache.HashAtHeight, 0, upTo+1)
	for h := uint32(0); h <= upTo; h++ {
		hash, err := s.client.BlockHash(ctx, h)
		if err != nil {
			if errors.Is(err, upstream.ErrUnavailable) {
				return nil, fmt.Errorf("sync: collect reorg candidates: %w", err)
			}
			continue
		}
		candidates = append(candidates, cache.HashAtHeight{Height: h, Hash: cdc.EncodeHash(hash)})
		if h == upTo {
			break
		}
	}
	return candidates, nil
}

// unwind inverts every cached batch above ancestor (height-descending,
// intra-batch-reversed), sends them as one atomic batch, restores the
// host's TransformState, and rolls back the cache.
func (s *Synchroniser) unwind(ctx context.Context, ancestor, liveTip uint32) error {
	current := s.CurrentHeight()
	var inverses cdc.Batch

	for h := current; h > ancestor; h-- {
		entry, ok := s.cache.Get(h)
		if !ok {
			return fmt.Errorf("%w: missing cache entry for height %d during unwind", cache.ErrContiguityViolation, h)
		}
		// The cache is only rolled back after every inverse is generated,
		// so the old chain's hash at h-1 (still canonical until this
		// unwind completes) is available uniformly, including at
		// h-1 == ancestor.
		newHeight := h - 1
		var newHash string
		if newEntry, ok := s.cache.Get(newHeight); ok {
			newHash = newEntry.Metadata.Hash
		}
		inverses = append(inverses, invert.Batch(entry.Batch, newHeight, newHash)...)
	}

	snapshot, ok := s.cache.StateSnapshot(ancestor)
	if ok {
		s.host.RestoreState(snapshot)
	}

	// The guest's rollback() entry point runs once at the ancestor, after
	// state is restored, and its batch goes out after the inverses in the
	// single atomic send below. A transform may hold derived state (a
	// running aggregate, a materialized view) that inverting the cached
	// forward batches alone cannot correct.
	ancestorHash := ""
	if ancestorEntry, ok := s.cache.Get(ancestor); ok {
		ancestorHash = ancestorEntry.Metadata.Hash
	}
	if rollbackBatch, err := s.host.Rollback(ctx, ancestor, cdc.DecodeHash(ancestorHash)); err != nil {
		return fmt.Errorf("%w: %v", ErrSandboxFault, err)
	} else if len(rollbackBatch) > 0 {
		inverses = append(inverses, rollbackBatch...)
	}

	if len(inverses) > 0 {
		if err := s.sendWithRetry(ctx, inverses); err != nil {
			s.metrics.sinkSendErrors.Inc()
			return fmt.Errorf("sync: send unwind batch: %w", err)
		}
	}

	if err := s.cache.Rollback(ancestor); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentHeight = ancestor
	s.mu.Unlock()

	s.metrics.reorgsHandled.Inc()
	s.metrics.reorgDepth.Observe(float64(current - ancestor))
	s.metrics.currentHeightGauge.Set(float64(ancestor))
	s.metrics.cacheSizeGauge.Set(float64(s.cache.Len()))

	return s.advance(ctx, ancestor+1, liveTip)
}

// unwindAll handles the no-common-ancestor case while the cache still
// reaches genesis: every cached batch is inverted, the transform restarts
// with fresh state, and the new chain is processed from the starting height.
// Block 0's inverse has no prior block to target, so it carries height 0
// and an empty hash.
func (s *Synchroniser) unwindAll(ctx context.Context, liveTip uint32) error {
	current := s.CurrentHeight()
	var inverses cdc.Batch

	for h := current; ; h-- {
		entry, ok := s.cache.Get(h)
		if !ok {
			break
		}
		newHeight := uint32(0)
		var newHash string
		if h > 0 {
			newHeight = h - 1
			if newEntry, ok := s.cache.Get(newHeight); ok {
				newHash = newEntry.Metadata.Hash
			}
		}
		inverses = append(inverses, invert.Batch(entry.Batch, newHeight, newHash)...)
		if h == 0 {
			break
		}
	}

	s.host.RestoreState(cdc.NewTransformState())

	if rollbackBatch, err := s.host.Rollback(ctx, 0, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrSandboxFault, err)
	} else if len(rollbackBatch) > 0 {
		inverses = append(inverses, rollbackBatch...)
	}

	if len(inverses) > 0 {
		if err := s.sendWithRetry(ctx, inverses); err != nil {
			s.metrics.sinkSendErrors.Inc()
			return fmt.Errorf("sync: send unwind batch: %w", err)
		}
	}

	s.cache.Clear()

	s.mu.Lock()
	s.currentHeight = s.cfg.StartHeight
	s.started = false
	s.mu.Unlock()

	s.metrics.reorgsHandled.Inc()
	s.metrics.reorgDepth.Observe(float64(current + 1))
	s.metrics.cacheSizeGauge.Set(0)

	return s.advance(ctx, s.cfg.StartHeight, liveTip)
}
