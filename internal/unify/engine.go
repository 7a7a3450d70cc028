package unify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
)

// estimatedRecordsPerSec feeds the rough completion estimate reported to the
// trigger caller. It only needs to be the right order of magnitude.
const estimatedRecordsPerSec = 50

// Options tunes one engine instance.
type Options struct {
	// BatchSize is the per-source fetch size per loop iteration.
	BatchSize int
	// TimeBudget bounds one invocation's wall-clock work, kept well under
	// the host's hard execution limit.
	TimeBudget time.Duration
	// DefaultCountryCode is applied during phone normalization.
	DefaultCountryCode string
	// Aliases maps canonical payload field names to per-source key aliases.
	Aliases map[string][]string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.TimeBudget <= 0 {
		o.TimeBudget = 50 * time.Second
	}
	if o.DefaultCountryCode == "" {
		o.DefaultCountryCode = "1"
	}
	return o
}

// Engine drives the unification job: time-boxed chunks of parallel
// fetch → normalize → resolve → merge → persist passes, checkpointed after
// every iteration, chained via self-invocation until the backlog drains.
type Engine struct {
	pool      db.Pool
	ledger    *Ledger
	fetcher   *Fetcher
	resolver  *Resolver
	persister *Persister
	events    *EventLog
	conflicts *ConflictLog
	invoker   Invoker
	opts      Options
}

// NewEngine wires an Engine from its collaborators. invoker may be nil to
// disable chunk chaining (single-chunk mode, used by the CLI).
func NewEngine(pool db.Pool, ledger *Ledger, persister *Persister, invoker Invoker, opts Options) *Engine {
	return &Engine{
		pool:      pool,
		ledger:    ledger,
		fetcher:   NewFetcher(pool),
		resolver:  NewResolver(pool),
		persister: persister,
		events:    NewEventLog(pool),
		conflicts: NewConflictLog(pool),
		invoker:   invoker,
		opts:      opts.withDefaults(),
	}
}

// StartRequest is the trigger contract's input.
type StartRequest struct {
	Sources     []string `json:"sources,omitempty"`
	BatchSize   int      `json:"batchSize,omitempty"`
	ForceCancel bool     `json:"forceCancel,omitempty"`
}

// StartStatus classifies the trigger outcome.
type StartStatus string

const (
	StartStarted        StartStatus = "started"
	StartAlreadyRunning StartStatus = "already_running"
	StartNothingPending StartStatus = "nothing_pending"
	StartCancelled      StartStatus = "cancelled"
)

// StartResult is the trigger contract's response.
type StartResult struct {
	Status        StartStatus            `json:"status"`
	Run           *model.SyncRun         `json:"run,omitempty"`
	PendingCounts map[model.Source]int64 `json:"pendingCounts,omitempty"`
	EstimatedSecs int64                  `json:"estimatedTime,omitempty"`
	CancelledRuns int64                  `json:"cancelledRuns,omitempty"`
}

// Start evaluates the trigger contract: force-cancel, nothing-pending, and
// already-running short-circuits, otherwise a new run acquires the
// single-writer lock. The caller decides whether to drive the first chunk
// synchronously (CLI) or in the background (HTTP).
func (e *Engine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.ForceCancel {
		n, err := e.ledger.ForceCancel(ctx)
		if err != nil {
			return nil, err
		}
		return &StartResult{Status: StartCancelled, CancelledRuns: n}, nil
	}

	sources, err := model.ParseSources(req.Sources)
	if err != nil {
		return nil, err
	}

	pending, err := PendingCounts(ctx, e.pool, sources)
	if err != nil {
		return nil, err
	}
	total := TotalPending(pending)
	if total == 0 {
		return &StartResult{Status: StartNothingPending, PendingCounts: pending}, nil
	}

	run, created, err := e.ledger.Acquire(ctx, sources)
	if err != nil {
		return nil, err
	}
	if !created {
		return &StartResult{Status: StartAlreadyRunning, Run: run}, nil
	}

	if req.BatchSize > 0 {
		run.BatchSize = req.BatchSize
	}

	return &StartResult{
		Status:        StartStarted,
		Run:           run,
		PendingCounts: pending,
		EstimatedSecs: total/estimatedRecordsPerSec + 1,
	}, nil
}

// Continue picks up a chained run for its next chunk. The carried cursor
// wins over the persisted one only when it is further along; a replayed
// continuation can therefore never rewind progress.
func (e *Engine) Continue(ctx context.Context, req ContinuationRequest) error {
	run, err := e.ledger.Get(ctx, req.RunID)
	if err != nil {
		return err
	}
	if !run.Status.Active() {
		return eris.Errorf("engine: run %s is %s, not continuable", run.ID, run.Status)
	}

	// The invoker retries on lost acks, so the same continuation can arrive
	// twice. Claiming the chunk decides a single executor; the loser drops
	// its copy.
	claimed, err := e.ledger.Claim(ctx, run.ID)
	if err != nil {
		return err
	}
	if !claimed {
		zap.L().Info("continuation already claimed, dropping duplicate",
			zap.String("run_id", run.ID),
			zap.Int("chunk", req.ChunkNumber),
		)
		return nil
	}
	run.Status = model.RunRunning

	for src, pos := range req.Cursor {
		if pos > run.Cursor[src] {
			run.Cursor[src] = pos
		}
	}
	if req.ChunkNumber > run.Chunk {
		run.Chunk = req.ChunkNumber
	}

	return e.RunChunk(ctx, run)
}

// sourceResult is one source's outcome for one loop iteration.
type sourceResult struct {
	counts model.SourceCounts
	cursor int64
}

// RunChunk executes one time-boxed invocation: a tight loop of parallel
// per-source passes, checkpointing the ledger after each iteration, then
// either completes the run, pauses it, or chains the next chunk.
func (e *Engine) RunChunk(ctx context.Context, run *model.SyncRun) error {
	log := zap.L().With(
		zap.String("component", "unify.engine"),
		zap.String("run_id", run.ID),
		zap.Int("chunk", run.Chunk),
	)
	deadline := time.Now().Add(e.opts.TimeBudget)
	zeroStreak := 0
	batch := e.opts.BatchSize
	if run.BatchSize > 0 {
		batch = run.BatchSize
	}

	if run.Counts == nil {
		run.Counts = make(map[model.Source]model.SourceCounts)
	}
	if run.Cursor == nil {
		run.Cursor = model.Cursor{}
	}

	for {
		// Cancellation is cooperative, polled once per iteration.
		status, err := e.ledger.Status(ctx, run.ID)
		if err != nil {
			return err
		}
		if !status.Active() {
			log.Info("run no longer active, stopping", zap.String("status", string(status)))
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]sourceResult, len(run.Sources))
		for i, src := range run.Sources {
			g.Go(func() error {
				res, err := e.processSource(gctx, src, run.Cursor[src], batch)
				if err != nil {
					return eris.Wrapf(err, "engine: process %s", src)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			run.Status = model.RunPaused
			run.Message = err.Error()
			if ckErr := e.ledger.Checkpoint(ctx, run); ckErr != nil {
				log.Error("checkpoint after failure", zap.Error(ckErr))
			}
			return err
		}

		var progress int64
		for i, src := range run.Sources {
			c := run.Counts[src]
			c.Add(results[i].counts)
			run.Counts[src] = c
			if results[i].cursor > run.Cursor[src] {
				run.Cursor[src] = results[i].cursor
			}
			progress += results[i].counts.Processed
		}

		if err := e.ledger.Checkpoint(ctx, run); err != nil {
			return err
		}

		if progress == 0 {
			zeroStreak++
		} else {
			zeroStreak = 0
		}

		// Two consecutive zero-progress iterations: consult ground truth
		// instead of trusting ambiguous batch counts.
		if zeroStreak >= 2 {
			pending, err := PendingCounts(ctx, e.pool, run.Sources)
			if err != nil {
				return err
			}
			remaining := TotalPending(pending)

			if remaining == 0 {
				return e.complete(ctx, run, log)
			}
			if run.TotalErrors() > 0 {
				run.Status = model.RunPaused
				run.Message = "records remain after repeated zero-progress iterations; see error counts"
				log.Warn("pausing run for operator attention", zap.Int64("remaining", remaining))
				return e.ledger.Checkpoint(ctx, run)
			}
			zeroStreak = 0
		}

		if time.Now().After(deadline) {
			pending, err := PendingCounts(ctx, e.pool, run.Sources)
			if err != nil {
				return err
			}
			if TotalPending(pending) == 0 {
				return e.complete(ctx, run, log)
			}
			return e.chain(ctx, run, log)
		}
	}
}

// complete transitions completing → completed exactly once.
func (e *Engine) complete(ctx context.Context, run *model.SyncRun, log *zap.Logger) error {
	run.Status = model.RunCompleting
	if err := e.ledger.Checkpoint(ctx, run); err != nil {
		return err
	}
	run.Status = model.RunCompleted
	run.Message = "backlog drained"
	if err := e.ledger.Checkpoint(ctx, run); err != nil {
		return err
	}
	log.Info("run completed", zap.Int64("processed", run.TotalProcessed()))
	return nil
}

// chain marks the run continuing and fires the next chunk. Only the
// acknowledgment is awaited; permanent chain failure pauses the run with a
// resumable checkpoint instead of losing progress.
func (e *Engine) chain(ctx context.Context, run *model.SyncRun, log *zap.Logger) error {
	run.Status = model.RunContinuing
	run.Chunk++
	if err := e.ledger.Checkpoint(ctx, run); err != nil {
		return err
	}

	if e.invoker == nil {
		log.Info("no invoker configured, leaving run continuing for manual pickup")
		return nil
	}

	req := ContinuationRequest{
		RunID:        run.ID,
		Cursor:       run.Cursor.Clone(),
		ChunkNumber:  run.Chunk,
		Continuation: true,
	}
	if err := e.invoker.Invoke(ctx, req); err != nil {
		run.Status = model.RunPaused
		run.Message = "chain invocation failed: " + err.Error()
		log.Error("chain invocation failed, pausing run", zap.Error(err))
		if ckErr := e.ledger.Checkpoint(ctx, run); ckErr != nil {
			return ckErr
		}
		return nil
	}

	log.Info("chained next chunk", zap.Int("next_chunk", run.Chunk))
	return nil
}

// processSource runs one fetch → normalize → resolve → merge → persist pass
// for a single source and returns its counts and advanced cursor.
func (e *Engine) processSource(ctx context.Context, src model.Source, after int64, batch int) (sourceResult, error) {
	res := sourceResult{cursor: after}
	now := time.Now().UTC()

	raws, err := e.fetcher.FetchBatch(ctx, src, after, batch)
	if err != nil {
		return res, err
	}
	if len(raws) == 0 {
		return res, nil
	}

	normOpts := normalize.Options{
		DefaultCountryCode: e.opts.DefaultCountryCode,
		Aliases:            e.opts.Aliases,
	}

	var (
		processedIDs []int64
		muts         []*Mutation
		pending      = newBatchIndex()
		extraRawIDs  = make(map[*Mutation][]int64)
	)

	for _, raw := range raws {
		res.cursor = raw.ID
		res.counts.Processed++

		rec := normalize.Normalize(raw, normOpts)
		if rec == nil {
			res.counts.Skipped++
			processedIDs = append(processedIDs, raw.ID)
			continue
		}

		key := rec.IdempotencyKey()
		seen, err := e.events.Seen(ctx, src, key)
		if err != nil {
			res.counts.Errors++
			continue
		}
		if seen {
			res.counts.Skipped++
			processedIDs = append(processedIDs, raw.ID)
			continue
		}

		// Same-batch tie-break: a later record whose keys match an earlier
		// pending mutation merges into it in arrival order, instead of
		// racing at upsert time.
		if prior := pending.find(rec); prior != nil {
			merged, _ := MergeInto(prior.Client, rec, now)
			prior.Client = merged
			pending.index(prior)
			extraRawIDs[prior] = append(extraRawIDs[prior], raw.ID)
			continue
		}

		resolution, err := e.resolver.Resolve(ctx, rec)
		if err != nil {
			res.counts.Errors++
			continue
		}

		switch resolution.Kind {
		case ResolveConflict:
			if err := e.conflicts.Record(ctx, rec, resolution.ConflictA, resolution.ConflictB); err != nil {
				res.counts.Errors++
				continue
			}
			res.counts.Conflicts++
			processedIDs = append(processedIDs, raw.ID)

		case ResolveUpdate:
			merged, changed := MergeInto(resolution.Existing, rec, now)
			if !changed {
				res.counts.Skipped++
				processedIDs = append(processedIDs, raw.ID)
				continue
			}
			mut := &Mutation{Client: merged, Action: model.ActionUpdated, Rec: rec}
			muts = append(muts, mut)
			pending.index(mut)

		case ResolveCreate:
			mut := &Mutation{Client: BuildClient(rec, now), Action: model.ActionCreated, Rec: rec}
			muts = append(muts, mut)
			pending.index(mut)
		}
	}

	pres, err := e.persister.Persist(ctx, muts)
	if err != nil {
		return res, err
	}
	res.counts.Created += pres.Created
	res.counts.Updated += pres.Updated
	res.counts.Errors += pres.Errors

	for _, mut := range pres.Succeeded {
		if err := e.events.Append(ctx, mut.Client.ID, src, mut.Action, mut.Rec.IdempotencyKey()); err != nil {
			// The raw row stays unmarked so the audit append gets another
			// attempt on a later pass.
			zap.L().Warn("lead event append failed",
				zap.String("client_id", mut.Client.ID),
				zap.Error(err),
			)
			res.counts.Errors++
			continue
		}
		processedIDs = append(processedIDs, mut.Rec.RawID)
		processedIDs = append(processedIDs, extraRawIDs[mut]...)
	}

	if err := e.fetcher.MarkProcessed(ctx, src, processedIDs); err != nil {
		return res, err
	}

	return res, nil
}

// batchIndex coalesces same-identity records within one fetched batch.
type batchIndex struct {
	byKey map[string]*Mutation
}

func newBatchIndex() *batchIndex {
	return &batchIndex{byKey: make(map[string]*Mutation)}
}

func recordKeys(email, phone, crmID, chatID string) []string {
	var keys []string
	if email != "" {
		keys = append(keys, "e:"+email)
	}
	if phone != "" {
		keys = append(keys, "p:"+phone)
	}
	if crmID != "" {
		keys = append(keys, "c:"+crmID)
	}
	if chatID != "" {
		keys = append(keys, "s:"+chatID)
	}
	return keys
}

func (b *batchIndex) index(mut *Mutation) {
	c := mut.Client
	for _, k := range recordKeys(c.Email, c.Phone, c.CRMID, c.ChatID) {
		b.byKey[k] = mut
	}
}

func (b *batchIndex) find(rec *normalize.Record) *Mutation {
	for _, k := range recordKeys(rec.Email, rec.Phone, rec.CRMID, rec.ChatID) {
		if mut, ok := b.byKey[k]; ok {
			return mut
		}
	}
	return nil
}
