package images

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/cache"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/observability"
)

// FailureMessage is shown in place of an image that could not be produced
const FailureMessage = "Could not load image."

const DefaultStagger = 500 * time.Millisecond

// Status is the load state of one panel image
type Status string

const (
	StatusPending Status = "pending"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// PanelImage is the image slot of one panel
type PanelImage struct {
	Panel    int    `json:"panel"`
	Status   Status `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generator renders one image prompt to a data URI
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Options configure a Fetcher
type Options struct {
	// Stagger delays panel i (1-indexed) by (i-1)*Stagger
	Stagger time.Duration
	// Concurrency caps simultaneous upstream requests; 0 means no cap
	Concurrency int
	// RatePerMinute limits upstream requests across all fetches; 0 means no limit
	RatePerMinute int
	// Cache holds rendered images by model and prompt; nil disables caching
	Cache *cache.Cache[string]
	// Model keys the cache
	Model   string
	Metrics *observability.Metrics
	Logger  *logger.Logger
}

// Fetcher loads panel images independently of one another
type Fetcher struct {
	gen         Generator
	stagger     time.Duration
	concurrency int
	limiter     *rate.Limiter
	cache       *cache.Cache[string]
	model       string
	metrics     *observability.Metrics
	log         *logger.Logger
}

// NewFetcher creates a Fetcher. A negative stagger disables staggering.
func NewFetcher(gen Generator, opts Options) *Fetcher {
	if opts.Stagger == 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.Stagger < 0 {
		opts.Stagger = 0
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}

	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}

	return &Fetcher{
		gen:         gen,
		stagger:     opts.Stagger,
		concurrency: opts.Concurrency,
		limiter:     limiter,
		cache:       opts.Cache,
		model:       opts.Model,
		metrics:     opts.Metrics,
		log:         opts.Logger.With("component", "image_fetcher"),
	}
}

// Pending returns the initial image slots for panels
func Pending(panels models.PanelSequence) []PanelImage {
	out := make([]PanelImage, len(panels))
	for i, p := range panels {
		out[i] = PanelImage{Panel: p.Panel, Status: StatusPending}
	}
	return out
}

// Fetch loads every panel's image and blocks until all have settled or ctx is
// done. onUpdate, if set, is called concurrently from the per-panel goroutines
// with each status change. Slots left unsettled by cancellation are returned as is.
func (f *Fetcher) Fetch(ctx context.Context, panels models.PanelSequence, onUpdate func(PanelImage)) []PanelImage {
	mounted := time.Now()
	results := Pending(panels)

	var g errgroup.Group
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}

	for i, p := range panels {
		notBefore := mounted.Add(time.Duration(i) * f.stagger)
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, p, notBefore, func(img PanelImage) {
				results[i] = img
				if onUpdate != nil {
					onUpdate(img)
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, p models.Panel, notBefore time.Time, update func(PanelImage)) PanelImage {
	log := f.log.With("panel", p.Panel)
	img := PanelImage{Panel: p.Panel, Status: StatusPending}

	key := cache.HashKey(f.model, p.ImageGenerationPrompt)
	if f.cache != nil {
		if uri, ok := f.cache.Get(key); ok {
			img.Status, img.ImageURL = StatusReady, uri
			update(img)
			f.metrics.RecordPanelImage(ctx, observability.OutcomeCached)
			return img
		}
	}

	if wait := time.Until(notBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return img
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return img
		}
	}

	img.Status = StatusLoading
	update(img)

	uri, err := f.gen.GenerateImage(ctx, p.ImageGenerationPrompt)
	if err != nil {
		if ctx.Err() != nil {
			f.metrics.RecordPanelImage(ctx, observability.OutcomeCanceled)
			return img
		}
		log.Warn("panel image failed", "error", err.Error())
		img.Status, img.Error = StatusFailed, FailureMessage
		update(img)
		f.metrics.RecordPanelImage(ctx, observability.OutcomeError)
		return img
	}

	if f.cache != nil {
		f.cache.Set(key, uri)
	}
	img.Status, img.ImageURL = StatusReady, uri
	update(img)
	f.metrics.RecordPanelImage(ctx, observability.OutcomeOK)
	log.Debug("panel image ready")
	return img
}
