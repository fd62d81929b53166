package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/config"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/dbcontext"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/registry"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/unitofwork"
)

const peakSampleInterval = 200 * time.Microsecond

// LoadDocument is the entity the workers insert.
type LoadDocument struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	Context  string `json:"context"`
	Worker   int    `json:"worker"`
	Sequence int    `json:"sequence"`
}

func (d *LoadDocument) DocumentID() string {
	return d.ID
}

// LoadConfig controls the shape of one load run.
type LoadConfig struct {
	Settings  config.Settings
	Contexts  int
	Workers   int
	Documents int
	BatchSize int
}

// Validate rejects non-positive sizes.
func (c LoadConfig) Validate() error {
	for name, value := range map[string]int{
		flagContexts:  c.Contexts,
		flagWorkers:   c.Workers,
		flagDocuments: c.Documents,
		flagBatchSize: c.BatchSize,
	} {
		if value <= 0 {
			return fmt.Errorf("%w: --%s must be positive, got %d", docstore.ErrInvalidArgument, name, value)
		}
	}

	return nil
}

// Report summarizes a load run.
type Report struct {
	RunID        string
	Inserted     int64
	Failed       int64
	Stored       int64
	Duration     time.Duration
	PeakInFlight int
	Limit        int
	Stats        registry.Stats
}

// DocumentsPerSecond returns the insert throughput of the run.
func (r Report) DocumentsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}

	return float64(r.Inserted) / r.Duration.Seconds()
}

// LoadGenerator runs workers that insert documents through units of work.
// All workers share one ResourceManager, so contexts pointing at the same cluster share one admission budget.
type LoadGenerator struct {
	manager        *registry.ResourceManager
	config         LoadConfig
	clientConfig   docstore.ClientConfig
	logger         *slog.Logger
	contextOptions []dbcontext.Option
	runID          string
	inserted       atomic.Int64
	failed         atomic.Int64
	peakInFlight   atomic.Int64
}

// NewLoadGenerator creates a LoadGenerator. The DBContext options are applied to every context it opens.
func NewLoadGenerator(
	manager *registry.ResourceManager,
	cfg LoadConfig,
	logger *slog.Logger,
	contextOptions ...dbcontext.Option,
) (*LoadGenerator, error) {

	if manager == nil {
		return nil, docstore.ErrNilResourceManager
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientConfig, err := cfg.Settings.ClientConfig()
	if err != nil {
		return nil, err
	}

	return &LoadGenerator{
		manager:        manager,
		config:         cfg,
		clientConfig:   clientConfig,
		logger:         logger,
		contextOptions: contextOptions,
		runID:          docstore.NewDocumentID(),
	}, nil
}

// Run starts the workers and blocks until all documents are written or ctx is done.
func (lg *LoadGenerator) Run(ctx context.Context) (Report, error) {
	probe, err := lg.openContext(ctx, 0)
	if err != nil {
		return Report{}, err
	}

	semaphore := probe.Semaphore()
	sampleCtx, stopSampling := context.WithCancel(ctx)
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		lg.samplePeak(sampleCtx, semaphore.InFlight)
	}()

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	for worker := range lg.config.Workers {
		group.Go(func() error {
			return lg.runWorker(groupCtx, worker)
		})
	}

	runErr := group.Wait()
	duration := time.Since(start)
	stopSampling()
	<-sampled

	report := Report{
		RunID:        lg.runID,
		Inserted:     lg.inserted.Load(),
		Failed:       lg.failed.Load(),
		Duration:     duration,
		PeakInFlight: int(lg.peakInFlight.Load()),
		Limit:        semaphore.Limit(),
		Stats:        lg.manager.Stats(),
	}

	if runErr != nil {
		return report, runErr
	}

	stored, err := lg.countStored(ctx, probe)
	if err != nil {
		return report, err
	}
	report.Stored = stored

	return report, nil
}

func (lg *LoadGenerator) runWorker(ctx context.Context, worker int) error {
	for first := 0; first < lg.config.Documents; first += lg.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		last := min(first+lg.config.BatchSize, lg.config.Documents)
		if err := lg.runBatch(ctx, worker, first, last); err != nil {
			return err
		}
	}

	return nil
}

// runBatch inserts the documents [first, last) in one unit of work.
// Write failures are counted and logged, only failures to open the context are returned.
func (lg *LoadGenerator) runBatch(ctx context.Context, worker, first, last int) error {
	dbctx, err := lg.openContext(ctx, worker%lg.config.Contexts)
	if err != nil {
		return err
	}

	uow, err := unitofwork.New(dbctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := uow.Close(ctx); err != nil {
			lg.logger.Warn("closing unit of work failed", "worker", worker, "error", err.Error())
		}
	}()

	documents := unitofwork.RepositoryOf[*LoadDocument](uow)
	written := int64(0)

	for sequence := first; sequence < last; sequence++ {
		_, err := documents.Insert(ctx, &LoadDocument{
			ID:       fmt.Sprintf("%s-%d-%d", lg.runID, worker, sequence),
			RunID:    lg.runID,
			Context:  dbctx.Options().ContextID(),
			Worker:   worker,
			Sequence: sequence,
		})
		if err != nil {
			lg.recordFailure(worker, err, 1)
			continue
		}

		written++
	}

	if dbctx.Deferred() {
		if _, err := uow.SaveChanges(ctx); err != nil {
			lg.recordFailure(worker, err, written)
			return nil
		}
	}

	lg.inserted.Add(written)

	return nil
}

func (lg *LoadGenerator) recordFailure(worker int, err error, documents int64) {
	lg.failed.Add(documents)

	if errors.Is(err, context.Canceled) {
		return
	}

	lg.logger.Error("writing documents failed", "worker", worker, "documents", documents, "error", err.Error())
}

func (lg *LoadGenerator) openContext(ctx context.Context, index int) (*dbcontext.DBContext, error) {
	options, err := docstore.NewContextOptions(lg.config.Settings.ContextID+"-"+strconv.Itoa(index),
		docstore.WithAcceptAllChangesOnSave(lg.config.Settings.AcceptAllChangesOnSave),
		docstore.WithMaxConcurrentRequests(lg.config.Settings.MaxConcurrentRequests),
	)
	if err != nil {
		return nil, err
	}

	return dbcontext.New(ctx, lg.manager, registry.ConnectionRequest{
		ClientConfig: lg.clientConfig,
		DatabaseName: lg.config.Settings.Database,
		Options:      options,
	}, lg.contextOptions...)
}

func (lg *LoadGenerator) countStored(ctx context.Context, dbctx *dbcontext.DBContext) (int64, error) {
	uow, err := unitofwork.New(dbctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = uow.Close(ctx) }()

	return unitofwork.RepositoryOf[*LoadDocument](uow).Count(ctx,
		docstore.BuildFilter().Matching().AnyPredicateOf(docstore.P("run_id", lg.runID)).Finalize())
}

func (lg *LoadGenerator) samplePeak(ctx context.Context, inFlight func() int) {
	ticker := time.NewTicker(peakSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := int64(inFlight())
			for {
				peak := lg.peakInFlight.Load()
				if current <= peak || lg.peakInFlight.CompareAndSwap(peak, current) {
					break
				}
			}
		}
	}
}
