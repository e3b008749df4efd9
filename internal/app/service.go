// Package app orchestrates one batch run of the demand-sensitivity engine:
// ingest -> aggregate -> price-fill -> detect -> index -> estimate ->
// classify, with worker pools on the per-product and per-shock stages.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	taskqueue "github.com/veyra/demandlens/internal/adapters/mq/queue"
	workerpool "github.com/veyra/demandlens/internal/adapters/mq/worker"
	"github.com/veyra/demandlens/internal/adapters/repository"
	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/domain/resilience"
	"github.com/veyra/demandlens/internal/domain/sensitivity"
	"github.com/veyra/demandlens/internal/domain/shock"
	"github.com/veyra/demandlens/internal/domain/signal"
	"github.com/veyra/demandlens/pkg/logger"
	"github.com/veyra/demandlens/pkg/metrics"
)

// Default orchestration constants.
const (
	defaultQueueSize = 10_000

	// enqueueBackoff paces producers when every worker is busy and the
	// task queue is full.
	enqueueBackoff = time.Millisecond
)

// Stage names used in the run summary and stage-duration metrics.
const (
	StageAggregate = "aggregate"
	StagePriceFill = "price_fill"
	StageDetect    = "detect"
	StageEstimate  = "estimate"
	StageClassify  = "classify"
)

// Service runs the analytical pipeline over an ingested record set. Create
// it with New, feed it through Ingest, then call Run once the feed is
// complete. Results live in the store and in the run caches the output
// accessors read.
type Service struct {
	mu sync.RWMutex

	store repository.Store

	// Engine configuration.
	granularity    period.Granularity
	trailingWindow int
	thresholdStd   float64
	ratingDrop     float64
	prePostWindow  int
	matchNeighbors int
	resamples      int
	seed           int64
	targetMetric   model.Metric
	smallEffectMax float64
	largeEffectMin float64
	minEstimates   int
	workerCount    int
	queueSize      int

	clock clockwork.Clock
	log   logger.Logger

	// Ingestion counters.
	malformed  int
	duplicates int

	// Last run's outputs, rebuilt by Run.
	signalsByProduct map[string][]model.ProductPeriodSignal
	shocks           []model.ShockEvent
	estimates        []model.SensitivityEstimate
	skips            []model.EstimateSkip
	labels           []model.ResilienceLabel
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the record and outcome store. The default is the in-memory
// store; batch runs that need an audit trail pass the SQLite store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithGranularity sets the calendar bucket for aggregation and window
// arithmetic.
func WithGranularity(g period.Granularity) Option {
	return func(s *Service) {
		if g.Valid() {
			s.granularity = g
		}
	}
}

// WithTrailingWindow sets the shock detector's baseline window.
func WithTrailingWindow(periods int) Option {
	return func(s *Service) {
		if periods > 0 {
			s.trailingWindow = periods
		}
	}
}

// WithShockThreshold sets the deviation threshold in standard deviations.
func WithShockThreshold(std float64) Option {
	return func(s *Service) {
		if std > 0 {
			s.thresholdStd = std
		}
	}
}

// WithRatingDropThreshold sets the absolute rating-drop trigger.
func WithRatingDropThreshold(drop float64) Option {
	return func(s *Service) {
		if drop > 0 {
			s.ratingDrop = drop
		}
	}
}

// WithPrePostWindow sets each side of the estimator's window.
func WithPrePostWindow(periods int) Option {
	return func(s *Service) {
		if periods > 0 {
			s.prePostWindow = periods
		}
	}
}

// WithMatchNeighbors sets the matched control group size.
func WithMatchNeighbors(neighbors int) Option {
	return func(s *Service) {
		if neighbors > 0 {
			s.matchNeighbors = neighbors
		}
	}
}

// WithBootstrapResamples sets the confidence-interval resample count.
func WithBootstrapResamples(resamples int) Option {
	return func(s *Service) {
		if resamples > 0 {
			s.resamples = resamples
		}
	}
}

// WithBootstrapSeed sets the base RNG seed for bootstrap intervals.
func WithBootstrapSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithTargetMetric sets the metric effects are estimated on.
func WithTargetMetric(m model.Metric) Option {
	return func(s *Service) {
		switch m {
		case model.MetricReviewVelocity, model.MetricMeanRating, model.MetricSentimentScore:
			s.targetMetric = m
		}
	}
}

// WithEffectThresholds sets the classifier's negligible and hard-drop
// bounds. Both must be positive and small must stay below large.
func WithEffectThresholds(small, large float64) Option {
	return func(s *Service) {
		if small > 0 && large > small {
			s.smallEffectMax = small
			s.largeEffectMin = large
		}
	}
}

// WithMinLabelEstimates sets how many estimates a label rule needs.
func WithMinLabelEstimates(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minEstimates = n
		}
	}
}

// WithWorkerCount sets the parallel stage workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds the stage task queues.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithClock injects the clock used for outcome timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		store:          repository.NewMemoryStore(),
		granularity:    period.Week,
		trailingWindow: 4,
		thresholdStd:   1.5,
		ratingDrop:     0.5,
		prePostWindow:  4,
		matchNeighbors: 5,
		resamples:      1000,
		seed:           1,
		targetMetric:   model.MetricReviewVelocity,
		smallEffectMax: 0.5,
		largeEffectMin: 2.0,
		minEstimates:   2,
		workerCount:    runtime.NumCPU(),
		queueSize:      defaultQueueSize,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("app")
	}
	return s
}

// Ingest validates and stores one record. Malformed records are the
// caller's problem to report upstream: the error wraps
// model.ErrMalformedRecord and the record is never retried. Duplicates are
// counted and absorbed.
func (s *Service) Ingest(ctx context.Context, rec model.ReviewRecord) error {
	added, err := s.store.IngestRecord(ctx, rec)
	if err != nil {
		if errors.Is(err, model.ErrMalformedRecord) {
			s.mu.Lock()
			s.malformed++
			s.mu.Unlock()
			metrics.RecordMalformed()
		}
		return err
	}
	if !added {
		s.mu.Lock()
		s.duplicates++
		s.mu.Unlock()
		metrics.RecordDuplicate()
		return nil
	}
	metrics.RecordIngested()
	return nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// RunSummary reports what one batch run produced.
type RunSummary struct {
	Products       int                      `json:"products"`
	Signals        int                      `json:"signals"`
	ShocksByType   map[model.ShockType]int  `json:"shocks_by_type"`
	Estimates      int                      `json:"estimates"`
	SkipsByReason  map[model.SkipReason]int `json:"skips_by_reason"`
	LabelsByValue  map[model.Resilience]int `json:"labels_by_value"`
	LabelsWithheld int                      `json:"labels_withheld"`
	Malformed      int                      `json:"malformed_records"`
	Duplicates     int                      `json:"duplicate_records"`
	StageDurations map[string]time.Duration `json:"stage_durations"`
}

// Run executes the pipeline over everything ingested so far. Per-product
// and per-shock failures are logged and counted without aborting the batch;
// only context cancellation stops a run early. Run may be called again
// after further ingestion: signals and shocks are recomputed, estimates and
// skips append to the store's history.
func (s *Service) Run(ctx context.Context) (*RunSummary, error) {
	products, err := s.store.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	s.mu.Lock()
	summary := &RunSummary{
		Products:       len(products),
		ShocksByType:   make(map[model.ShockType]int),
		SkipsByReason:  make(map[model.SkipReason]int),
		LabelsByValue:  make(map[model.Resilience]int),
		Malformed:      s.malformed,
		Duplicates:     s.duplicates,
		StageDurations: make(map[string]time.Duration),
	}
	s.signalsByProduct = make(map[string][]model.ProductPeriodSignal, len(products))
	s.shocks = nil
	s.estimates = nil
	s.skips = nil
	s.labels = nil
	s.mu.Unlock()

	s.log.Info(ctx, "starting batch run", logger.Int("products", len(products)))

	segments, err := s.segmentAssignments(ctx, products)
	if err != nil {
		return nil, err
	}

	if err := s.stageAggregate(ctx, products, summary); err != nil {
		return nil, err
	}
	if err := s.stagePriceFill(ctx, segments, summary); err != nil {
		return nil, err
	}
	if err := s.stageDetect(ctx, products, summary); err != nil {
		return nil, err
	}
	if err := s.stageEstimate(ctx, segments, summary); err != nil {
		return nil, err
	}
	if err := s.stageClassify(ctx, products, summary); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "batch run complete",
		logger.Int("signals", summary.Signals),
		logger.Int("estimates", summary.Estimates),
		logger.Int("labels_withheld", summary.LabelsWithheld),
	)
	return summary, nil
}

// segmentAssignments reads each product's segment tag once up front.
func (s *Service) segmentAssignments(ctx context.Context, products []string) (map[string]string, error) {
	segments := make(map[string]string, len(products))
	for _, productID := range products {
		segment, err := s.store.SegmentOf(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("segment of %s: %w", productID, err)
		}
		segments[productID] = segment
	}
	return segments, nil
}

// stageAggregate rolls every product's records into period signals, one
// product per task.
func (s *Service) stageAggregate(ctx context.Context, products []string, summary *RunSummary) error {
	agg := signal.NewAggregator(signal.WithGranularity(s.granularity))

	err := runStage(ctx, s, StageAggregate, products, summary, func(ctx context.Context, productID string) error {
		records, err := s.store.RecordsOf(ctx, productID)
		if err != nil {
			return fmt.Errorf("records of %s: %w", productID, err)
		}
		signals, err := agg.Aggregate(ctx, productID, records)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.signalsByProduct[productID] = signals
		s.mu.Unlock()
		metrics.AddSignalsEmitted(len(signals))
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.RLock()
	for _, signals := range s.signalsByProduct {
		summary.Signals += len(signals)
	}
	s.mu.RUnlock()
	return nil
}

// stagePriceFill materializes the peer price index and backfills
// price_relative. The index reads every product's signals, so this stage is
// the serial barrier between aggregation and detection.
func (s *Service) stagePriceFill(ctx context.Context, segments map[string]string, summary *RunSummary) error {
	start := s.clock.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	prices := repository.BuildPriceIndex(s.signalsByProduct, segments)
	for productID, signals := range s.signalsByProduct {
		signal.FillPriceRelative(signals, segments[productID], prices.Median)
	}
	s.mu.Unlock()

	s.finishStage(ctx, StagePriceFill, start, summary)
	return nil
}

// stageDetect scans every product's signal series for shocks, one product
// per task.
func (s *Service) stageDetect(ctx context.Context, products []string, summary *RunSummary) error {
	det := shock.NewDetector(
		shock.WithTrailingWindow(s.trailingWindow),
		shock.WithThresholdStd(s.thresholdStd),
		shock.WithRatingDropThreshold(s.ratingDrop),
	)

	err := runStage(ctx, s, StageDetect, products, summary, func(ctx context.Context, productID string) error {
		s.mu.RLock()
		signals := s.signalsByProduct[productID]
		s.mu.RUnlock()

		events, err := det.Detect(ctx, productID, signals)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.store.SaveShock(ctx, ev); err != nil {
				return fmt.Errorf("save shock %s: %w", ev.ID, err)
			}
			metrics.RecordShockDetected(string(ev.ShockType))
		}
		if len(events) > 0 {
			s.mu.Lock()
			s.shocks = append(s.shocks, events...)
			s.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	sortShocks(s.shocks)
	for _, ev := range s.shocks {
		summary.ShocksByType[ev.ShockType]++
	}
	s.mu.Unlock()
	return nil
}

// stageEstimate builds the immutable signal index and estimates every
// shock, one shock per task. Known estimation failures become recorded
// skips; anything else is logged and counted by the pool.
func (s *Service) stageEstimate(ctx context.Context, segments map[string]string, summary *RunSummary) error {
	s.mu.RLock()
	idx := repository.NewSignalIndex(s.signalsByProduct, segments, s.shocks)
	tasks := make([]model.ShockEvent, len(s.shocks))
	copy(tasks, s.shocks)
	s.mu.RUnlock()

	est := sensitivity.NewEstimator(
		sensitivity.WithGranularity(s.granularity),
		sensitivity.WithPrePostWindow(s.prePostWindow),
		sensitivity.WithMatchNeighbors(s.matchNeighbors),
		sensitivity.WithBootstrapResamples(s.resamples),
		sensitivity.WithBootstrapSeed(s.seed),
		sensitivity.WithTargetMetric(s.targetMetric),
		sensitivity.WithClock(s.clock),
	)

	err := runStage(ctx, s, StageEstimate, tasks, summary, func(ctx context.Context, ev model.ShockEvent) error {
		result, err := est.Estimate(ctx, ev, idx)
		if err != nil {
			reason, known := sensitivity.SkipReasonFor(err)
			if !known {
				return err
			}
			skip := model.EstimateSkip{
				ProductID:  ev.ProductID,
				ShockID:    ev.ID,
				Reason:     reason,
				Detail:     err.Error(),
				RecordedAt: s.clock.Now().UTC(),
			}
			if err := s.store.SaveSkip(ctx, skip); err != nil {
				return fmt.Errorf("save skip for shock %s: %w", ev.ID, err)
			}
			metrics.RecordEstimateSkipped(string(reason))
			s.log.Warn(ctx, "estimate skipped",
				logger.String("product", ev.ProductID),
				logger.String("shock", ev.ID.String()),
				logger.String("reason", string(reason)),
			)
			s.mu.Lock()
			s.skips = append(s.skips, skip)
			s.mu.Unlock()
			return nil
		}

		if err := s.store.SaveEstimate(ctx, result); err != nil {
			return fmt.Errorf("save estimate for shock %s: %w", ev.ID, err)
		}
		metrics.RecordEstimateComputed()
		s.mu.Lock()
		s.estimates = append(s.estimates, result)
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	sortEstimates(s.estimates)
	sortSkips(s.skips)
	summary.Estimates = len(s.estimates)
	for _, skip := range s.skips {
		summary.SkipsByReason[skip.Reason]++
	}
	s.mu.Unlock()
	return nil
}

// stageClassify joins each product's estimates with their shocks' types and
// assigns labels. The pass is serial and deterministic.
func (s *Service) stageClassify(ctx context.Context, products []string, summary *RunSummary) error {
	start := s.clock.Now()

	cls := resilience.NewClassifier(
		resilience.WithSmallEffectMax(s.smallEffectMax),
		resilience.WithLargeEffectMin(s.largeEffectMin),
		resilience.WithMinEstimates(s.minEstimates),
		resilience.WithClock(s.clock),
	)

	for _, productID := range products {
		if err := ctx.Err(); err != nil {
			return err
		}

		estimates, err := s.store.EstimatesOf(ctx, productID)
		if err != nil {
			return fmt.Errorf("estimates of %s: %w", productID, err)
		}
		if len(estimates) == 0 {
			continue
		}
		shocks, err := s.store.ShocksOf(ctx, productID)
		if err != nil {
			return fmt.Errorf("shocks of %s: %w", productID, err)
		}
		typeByShock := make(map[string]model.ShockType, len(shocks))
		for _, ev := range shocks {
			typeByShock[ev.ID.String()] = ev.ShockType
		}

		observations := make([]resilience.Observation, 0, len(estimates))
		for _, est := range estimates {
			observations = append(observations, resilience.Observation{
				Effect:    est.EstimatedEffect,
				ShockType: typeByShock[est.ShockID.String()],
			})
		}

		label, ok := cls.Classify(productID, observations)
		if !ok {
			summary.LabelsWithheld++
			metrics.RecordLabelWithheld()
			s.log.Debug(ctx, "label withheld",
				logger.String("product", productID),
				logger.Int("estimates", len(estimates)),
			)
			continue
		}
		if err := s.store.SaveLabel(ctx, label); err != nil {
			return fmt.Errorf("save label for %s: %w", productID, err)
		}
		metrics.RecordLabelAssigned(string(label.Label))
		summary.LabelsByValue[label.Label]++
		s.mu.Lock()
		s.labels = append(s.labels, label)
		s.mu.Unlock()
	}

	s.finishStage(ctx, StageClassify, start, summary)
	return nil
}

// runStage fans tasks out to a worker pool, waits for the drain, and
// records the stage duration. Task errors are the pool's to log and count;
// the stage itself fails only on context cancellation. Generic stage
// plumbing lives in a free function because methods cannot carry type
// parameters.
func runStage[T any](ctx context.Context, s *Service, name string, tasks []T, summary *RunSummary, proc func(context.Context, T) error) error {
	start := s.clock.Now()

	q := taskqueue.NewInMemoryQueue[T](taskqueue.WithCapacity[T](s.queueSize))
	pool := workerpool.NewPool[T](q, workerpool.ProcessorFunc[T](proc),
		workerpool.WithWorkerCount[T](s.workerCount),
		workerpool.WithName[T](name),
	)
	pool.Start(ctx)

	for _, task := range tasks {
		for !q.Enqueue(ctx, task) {
			if ctx.Err() != nil {
				break
			}
			// Full queue: every worker is busy, give them room.
			time.Sleep(enqueueBackoff)
		}
		if ctx.Err() != nil {
			break
		}
	}
	_ = q.Close()
	pool.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.finishStage(ctx, name, start, summary)
	return nil
}

func (s *Service) finishStage(ctx context.Context, name string, start time.Time, summary *RunSummary) {
	elapsed := s.clock.Now().Sub(start)
	summary.StageDurations[name] = elapsed
	metrics.ObserveStageDuration(name, elapsed.Seconds())
	s.log.Info(ctx, "stage finished",
		logger.String("stage", name),
		logger.Duration("took", elapsed),
	)
}

// Output accessors, valid after Run.

// Signals returns the run's signals sorted by product, then period.
func (s *Service) Signals() []model.ProductPeriodSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]string, 0, len(s.signalsByProduct))
	for productID := range s.signalsByProduct {
		products = append(products, productID)
	}
	sort.Strings(products)

	var out []model.ProductPeriodSignal
	for _, productID := range products {
		out = append(out, s.signalsByProduct[productID]...)
	}
	return out
}

// Shocks returns the run's shock events sorted by product, period, type.
func (s *Service) Shocks() []model.ShockEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ShockEvent, len(s.shocks))
	copy(out, s.shocks)
	return out
}

// Estimates returns the run's estimates sorted by product, then shock.
func (s *Service) Estimates() []model.SensitivityEstimate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SensitivityEstimate, len(s.estimates))
	copy(out, s.estimates)
	return out
}

// Skips returns the run's recorded estimate skips.
func (s *Service) Skips() []model.EstimateSkip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EstimateSkip, len(s.skips))
	copy(out, s.skips)
	return out
}

// Labels returns the run's assigned labels in product order.
func (s *Service) Labels() []model.ResilienceLabel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ResilienceLabel, len(s.labels))
	copy(out, s.labels)
	return out
}

// LatestLabels returns the newest stored label per product, including prior
// runs when the store persists across them.
func (s *Service) LatestLabels(ctx context.Context) ([]model.ResilienceLabel, error) {
	return s.store.LatestLabels(ctx)
}

// LabelHistory returns a product's full label history oldest-first.
func (s *Service) LabelHistory(ctx context.Context, productID string) ([]model.ResilienceLabel, error) {
	return s.store.LabelHistory(ctx, productID)
}

// EstimateHistory returns a product's full estimate history, across runs.
func (s *Service) EstimateHistory(ctx context.Context, productID string) ([]model.SensitivityEstimate, error) {
	return s.store.EstimatesOf(ctx, productID)
}

// Sorting helpers keep parallel-stage output deterministic.

func sortShocks(shocks []model.ShockEvent) {
	sort.Slice(shocks, func(i, j int) bool {
		if shocks[i].ProductID != shocks[j].ProductID {
			return shocks[i].ProductID < shocks[j].ProductID
		}
		if !shocks[i].Period.Equal(shocks[j].Period) {
			return shocks[i].Period.Before(shocks[j].Period)
		}
		return shocks[i].ShockType < shocks[j].ShockType
	})
}

func sortEstimates(estimates []model.SensitivityEstimate) {
	sort.Slice(estimates, func(i, j int) bool {
		if estimates[i].ProductID != estimates[j].ProductID {
			return estimates[i].ProductID < estimates[j].ProductID
		}
		return estimates[i].ShockID.String() < estimates[j].ShockID.String()
	})
}

func sortSkips(skips []model.EstimateSkip) {
	sort.Slice(skips, func(i, j int) bool {
		if skips[i].ProductID != skips[j].ProductID {
			return skips[i].ProductID < skips[j].ProductID
		}
		return skips[i].ShockID.String() < skips[j].ShockID.String()
	})
}
