package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/extract"
	"competitor/scraper/internal/fetch"
	"competitor/scraper/internal/matcher"
	"competitor/scraper/internal/metrics"
	"competitor/scraper/internal/queue"
	"competitor/scraper/internal/scheduler"
	"competitor/scraper/internal/state"
	"competitor/scraper/internal/storage"
	"competitor/scraper/internal/throttle"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FetcherFactory builds the page fetcher for one run. An error fails the run before any origin is visited.
type FetcherFactory func() (fetch.Fetcher, error)

type Options struct {
	MaxConcurrentOrigins int
	MaxPages             int
	RelevanceFloor       float64
	RelaxedPass          bool
	MaxOriginWait        time.Duration

	Events queue.Publisher   // Nil drops lifecycle events
	Health state.HealthStore // Nil keeps origin health in memory only
}

type Orchestrator struct {
	origins    []domain.Origin
	scheduler  *scheduler.Scheduler
	buckets    *throttle.Set
	newFetcher FetcherFactory
	parser     *extract.Parser
	matcher    *matcher.Matcher
	storage    storage.Storage
	opts       Options
}

func NewOrchestrator(
	origins []domain.Origin,
	sched *scheduler.Scheduler,
	buckets *throttle.Set,
	newFetcher FetcherFactory,
	store storage.Storage,
	opts Options,
) *Orchestrator {
	if opts.MaxConcurrentOrigins < 1 {
		opts.MaxConcurrentOrigins = 3
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 12
	}
	if opts.Events == nil {
		opts.Events = queue.Nop()
	}
	return &Orchestrator{
		origins:    slices.Clone(origins),
		scheduler:  sched,
		buckets:    buckets,
		newFetcher: newFetcher,
		parser:     extract.NewParser(),
		matcher:    matcher.New(),
		storage:    store,
		opts:       opts,
	}
}

func (o *Orchestrator) TotalOrigins() int {
	return len(o.origins)
}

// Run drives the task to a terminal status. It never returns early on a single origin's failure.
func (o *Orchestrator) Run(ctx context.Context, t *Task) {
	logger := log.WithField("task", t.ID())

	if err := t.start(time.Now().UTC()); err != nil {
		logger.Warnf("⚠️ %v", err)
		return
	}
	o.saveRun(ctx, t)
	o.publish(ctx, t, queue.EventRunStarted)
	logger.Infof("🚀 Crawl started: %d origins, terms %v", len(o.origins), t.Snapshot().SearchTerms)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("❌ Crawl panicked: %v", r)
			t.addError(fmt.Sprintf("Fatal error: %v\n%s", r, debug.Stack()))
			o.finish(ctx, t, domain.TaskStatusFailed)
		}
	}()

	fetcher, err := o.newFetcher()
	if err != nil {
		logger.Errorf("❌ Fatal setup error: %v", err)
		t.addError(fmt.Sprintf("Fatal error: fatal setup: %v", err))
		o.finish(ctx, t, domain.TaskStatusFailed)
		return
	}

	o.dispatch(ctx, t, fetcher)

	if ctx.Err() != nil {
		t.addError(fmt.Sprintf("Fatal error: crawl cancelled: %v", ctx.Err()))
		o.finish(ctx, t, domain.TaskStatusFailed)
		return
	}
	o.finish(ctx, t, domain.TaskStatusCompleted)
}

// dispatch hands origins to workers in scheduler rotation order, at most
// MaxConcurrentOrigins at a time. Origins that stay blocked past MaxOriginWait are skipped.
func (o *Orchestrator) dispatch(ctx context.Context, t *Task, fetcher fetch.Fetcher) {
	remaining := make(map[string]domain.Origin, len(o.origins))
	for _, origin := range o.origins {
		remaining[origin.Name] = origin
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrentOrigins)

	var waited time.Duration
	for len(remaining) > 0 && ctx.Err() == nil {
		if origin, ok := o.nextRemaining(remaining); ok {
			delete(remaining, origin.Name)
			g.Go(func() error {
				o.scrapeOrigin(ctx, t, fetcher, origin)
				return nil
			})
			continue
		}

		names := make([]string, 0, len(remaining))
		for name := range remaining {
			names = append(names, name)
		}
		slices.Sort(names)

		retryAt, found := o.scheduler.NextRetry(names...)
		wait := time.Until(retryAt)
		if !found || waited+wait > o.opts.MaxOriginWait {
			for _, name := range names {
				msg := fmt.Sprintf("Error scraping %s: %v", name, scheduler.ErrOriginBlocked)
				if found {
					if h := o.scheduler.Health(name); h.RetryAfter != nil {
						msg = fmt.Sprintf("%s until %s", msg, h.RetryAfter.Format(time.RFC3339))
					}
				}
				log.WithFields(log.Fields{"task": t.ID(), "origin": name}).Warnf("⏭️ Skipping blocked origin")
				t.addError(msg)
				t.completeOrigin(name, nil)
				delete(remaining, name)
			}
			o.saveRun(ctx, t)
			break
		}

		log.WithField("task", t.ID()).Infof("⏳ All remaining origins are cooling down, waiting %v", wait.Round(time.Second))
		if err := o.scheduler.Sleep(ctx, wait); err != nil {
			break
		}
		waited += wait
	}

	_ = g.Wait()
}

// nextRemaining asks the scheduler for active origins until one not yet dispatched comes up.
func (o *Orchestrator) nextRemaining(remaining map[string]domain.Origin) (domain.Origin, bool) {
	for range o.origins {
		name, err := o.scheduler.NextOrigin()
		if err != nil {
			return domain.Origin{}, false
		}
		if origin, ok := remaining[name]; ok {
			return origin, true
		}
	}
	return domain.Origin{}, false
}

func (o *Orchestrator) scrapeOrigin(ctx context.Context, t *Task, fetcher fetch.Fetcher, origin domain.Origin) {
	logger := log.WithFields(log.Fields{"task": t.ID(), "origin": origin.Name})

	var batch []domain.ProductRecord
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("❌ Origin crawl panicked: %v\n%s", r, debug.Stack())
			t.addError(fmt.Sprintf("Error scraping %s: panic: %v", origin.Name, r))
		}
		added := t.completeOrigin(origin.Name, batch)
		metrics.ProductsAccepted.WithLabelValues(origin.Name).Add(float64(len(added)))
		o.saveProducts(ctx, t, added)
		o.saveRun(ctx, t)
		logger.Infof("✅ Completed %s: %d products accepted", origin.Name, len(added))
	}()

	t.setCurrentOrigin(origin.Name)
	if err := o.scheduler.PaceSwitch(ctx); err != nil {
		return
	}

	client := &originClient{
		origin:    origin,
		fetcher:   fetcher,
		bucket:    o.buckets.For(origin.Name, origin.RequestsPerSecond),
		scheduler: o.scheduler,
	}

	var err error
	batch, err = o.crawlOrigin(ctx, t, client, origin)
	if err != nil && ctx.Err() == nil {
		logger.Warnf("⚠️ Origin crawl ended with error: %v", err)
		t.addError(fmt.Sprintf("Error scraping %s: %v", origin.Name, err))
	}
}

func (o *Orchestrator) crawlOrigin(ctx context.Context, t *Task, client *originClient, origin domain.Origin) ([]domain.ProductRecord, error) {
	platform := origin.Platform
	if platform == domain.PlatformUnknown {
		platform = extract.DetectPlatform(ctx, client, origin)
		log.WithField("origin", origin.Name).Debugf("Detected platform: %s", platform)
	}

	var (
		batch    []domain.ProductRecord
		firstErr error
	)
	for _, q := range t.queries() {
		accepted, err := o.crawlTerm(ctx, client, origin, platform, q)
		batch = append(batch, accepted...)
		if err != nil {
			if errors.Is(err, scheduler.ErrOriginBlocked) || ctx.Err() != nil {
				return batch, err
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("term %q: %w", q.Term, err)
			}
		}
	}
	return batch, firstErr
}

type nearMiss struct {
	record  domain.ProductRecord
	match   domain.MatchResult
	variant string
}

// crawlTerm harvests and scores candidates for one term until the minimum is met or
// the listing runs dry. Near misses may fill the gap in a relaxed final pass.
func (o *Orchestrator) crawlTerm(ctx context.Context, client *originClient, origin domain.Origin, platform domain.Platform, q domain.SearchQuery) ([]domain.ProductRecord, error) {
	var (
		accepted   []domain.ProductRecord
		near       []nearMiss
		seen       = make(map[string]struct{})
		harvested  bool
		harvestErr error
	)
	enough := func() bool { return q.MinAccepted > 0 && len(accepted) >= q.MinAccepted }

	for _, variant := range Variants(q.Term) {
		for page := 1; page <= o.opts.MaxPages && !enough(); page++ {
			urls, err := extract.Harvest(ctx, client, origin, variant, page, platform)
			if err != nil {
				if errors.Is(err, scheduler.ErrOriginBlocked) || ctx.Err() != nil {
					return accepted, err
				}
				if harvestErr == nil {
					harvestErr = err
				}
				break
			}
			harvested = true

			fresh := 0
			for _, u := range urls {
				if enough() {
					break
				}
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				fresh++

				record, match, err := o.evaluate(ctx, client, origin, q.Term, u)
				if err != nil {
					if errors.Is(err, scheduler.ErrOriginBlocked) || ctx.Err() != nil {
						return accepted, err
					}
					continue
				}

				if match.SimilarityScore >= o.opts.RelevanceFloor {
					accepted = append(accepted, record.WithMatch(q.Term, match, map[string]any{"variant": variant}))
				} else if match.SimilarityScore > 0 {
					near = append(near, nearMiss{record: record, match: match, variant: variant})
				}
			}
			if fresh == 0 {
				break
			}
		}
		if enough() {
			break
		}
	}

	if o.opts.RelaxedPass && !enough() && len(near) > 0 {
		slices.SortStableFunc(near, func(a, b nearMiss) int {
			return cmp.Compare(b.match.SimilarityScore, a.match.SimilarityScore)
		})
		for _, n := range near {
			if enough() {
				break
			}
			accepted = append(accepted, n.record.WithMatch(q.Term, n.match, map[string]any{
				"variant": n.variant,
				"relaxed": true,
			}))
		}
	}

	slices.SortStableFunc(accepted, func(a, b domain.ProductRecord) int {
		return cmp.Compare(b.MatchScore, a.MatchScore)
	})

	if !harvested && harvestErr != nil {
		return accepted, harvestErr
	}
	return accepted, nil
}

var errNotHTML = errors.New("not an html page")

func (o *Orchestrator) evaluate(ctx context.Context, client *originClient, origin domain.Origin, term, pageURL string) (domain.ProductRecord, domain.MatchResult, error) {
	res, err := client.Get(ctx, pageURL)
	if err != nil {
		return domain.ProductRecord{}, domain.MatchResult{}, err
	}
	if res.Kind() != fetch.KindHTML {
		return domain.ProductRecord{}, domain.MatchResult{}, errNotHTML
	}

	record, err := o.parser.Product(origin.Name, pageURL, res.Body)
	if err != nil {
		log.WithField("origin", origin.Name).Debugf("Dropped %s: %v", pageURL, err)
		return domain.ProductRecord{}, domain.MatchResult{}, err
	}

	match := o.matcher.Match(term, matcher.Candidate{
		Title:       record.Title,
		Brand:       record.Brand,
		Description: record.Description,
	})
	return record, match, nil
}

// Persistence runs detached from the crawl context so a cancelled run still records its outcome.
func (o *Orchestrator) saveRun(ctx context.Context, t *Task) {
	if err := o.storage.UpdateRun(context.WithoutCancel(ctx), t.Snapshot()); err != nil {
		log.WithField("task", t.ID()).Warnf("⚠️ Failed to persist run progress: %v", err)
	}
}

func (o *Orchestrator) saveProducts(ctx context.Context, t *Task, products []domain.ProductRecord) {
	if len(products) == 0 {
		return
	}
	if err := o.storage.SaveProducts(context.WithoutCancel(ctx), t.ID(), products); err != nil {
		log.WithField("task", t.ID()).Warnf("⚠️ Failed to persist %d products: %v", len(products), err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, t *Task, status domain.TaskStatus) {
	if !t.finish(status, time.Now().UTC()) {
		return
	}
	metrics.TasksFinished.WithLabelValues(string(status)).Inc()

	snapshot := t.Snapshot()
	if err := o.storage.FinalizeRun(context.WithoutCancel(ctx), snapshot); err != nil {
		log.WithField("task", t.ID()).Warnf("⚠️ Failed to finalize run: %v", err)
	}
	o.publish(ctx, t, queue.EventRunFinished)
	o.saveHealth(ctx)
	log.WithField("task", t.ID()).Infof("🏁 Crawl %s: %d/%d origins, %d products, %d errors",
		snapshot.Status, snapshot.CompletedOrigins, snapshot.TotalOrigins, snapshot.ProductsFound, len(snapshot.Errors))
}

func (o *Orchestrator) publish(ctx context.Context, t *Task, event queue.EventType) {
	if _, err := o.opts.Events.Publish(context.WithoutCancel(ctx), event, t.Snapshot()); err != nil {
		log.WithField("task", t.ID()).Warnf("⚠️ Failed to publish %s: %v", event, err)
	}
}

func (o *Orchestrator) saveHealth(ctx context.Context) {
	if o.opts.Health == nil {
		return
	}
	if err := o.opts.Health.SaveHealth(context.WithoutCancel(ctx), o.scheduler.Snapshot()); err != nil {
		log.Warnf("⚠️ Failed to persist origin health: %v", err)
	}
}

// originClient applies per-origin pacing and health bookkeeping around the shared fetcher.
type originClient struct {
	origin    domain.Origin
	fetcher   fetch.Fetcher
	bucket    *throttle.Bucket
	scheduler *scheduler.Scheduler

	mu       sync.Mutex
	requests int
}

func (c *originClient) Get(ctx context.Context, pageURL string) (*fetch.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scheduler.Blocked(c.origin.Name) {
		return nil, fmt.Errorf("%s: %w", c.origin.Name, scheduler.ErrOriginBlocked)
	}
	if c.requests > 0 {
		if err := c.scheduler.PaceRequest(ctx); err != nil {
			return nil, err
		}
	}
	c.requests++

	if err := c.bucket.Acquire(ctx); err != nil {
		return nil, err
	}

	res, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) && fe.CountsAsOriginFailure() {
			if c.scheduler.ReportFailure(c.origin.Name, fe.Error()) {
				return nil, fmt.Errorf("%w: %v", scheduler.ErrOriginBlocked, fe)
			}
			if perr := c.scheduler.PaceFailure(ctx); perr != nil {
				return nil, perr
			}
		}
		return nil, err
	}

	c.scheduler.ReportSuccess(c.origin.Name)
	return res, nil
}
