package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/liquidsax/epub-reader/internal/cache"
	"github.com/liquidsax/epub-reader/internal/epub"
)

// Units shorter than this are rendered as-is and counted as done.
const minTranslatableRunes = 3

// FailureMarker replaces a paragraph's translation in book export when the
// provider fails on it. The export never aborts over one bad paragraph.
const FailureMarker = "[translation failed]"

// ChapterProgress is invoked exactly once per unit with a monotonically
// increasing completed count.
type ChapterProgress func(done, total int)

// UnitCallback receives each unit's outcome as it is processed.
type UnitCallback func(UnitResult)

// BookProgress reports book-export progress at chapter granularity.
type BookProgress func(chapter, total int, status string)

// Source is the chapter extractor shape the orchestrator consumes. The
// epub.Book satisfies it.
type Source interface {
	BookID() string
	Title() string
	Language() string
	ChapterCount() int
	ChapterContent(index int) (*epub.ChapterContent, error)
}

// Run is one cancellable, ordered pass over a set of units. The caller
// holds the run it started; cancellation never races with starting the
// next run because the registry swaps them under one lock.
type Run struct {
	ID    string
	Scope string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	results []UnitResult
	output  []byte
}

// Cancel requests cooperative cancellation. The in-flight network call is
// aborted; no cache entry is written for the aborted unit.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run has finished, regardless of outcome.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run's terminal error. Only meaningful after Done.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Results returns the per-unit outcomes accumulated so far.
func (r *Run) Results() []UnitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UnitResult, len(r.results))
	copy(out, r.results)
	return out
}

// Output returns the produced EPUB blob for book runs. Only meaningful
// after Done with a nil Err.
func (r *Run) Output() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Run) append(res UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *Run) setOutput(blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = blob
}

// Runner orchestrates translation runs. At most one run is active per
// scope; starting a new run cancels and replaces the previous one
// atomically. The cache is the only resource shared across scopes.
type Runner struct {
	cache   *cache.Store
	builder *epub.Builder
	logger  *logrus.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

func NewRunner(cacheStore *cache.Store, builder *epub.Builder, logger *logrus.Logger) *Runner {
	return &Runner{
		cache:   cacheStore,
		builder: builder,
		logger:  logger,
		runs:    make(map[string]*Run),
	}
}

func (r *Runner) begin(scope string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.runs[scope]; exists {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:     uuid.New().String(),
		Scope:  scope,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[scope] = run
	return run
}

func (r *Runner) finish(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[run.Scope] == run {
		delete(r.runs, run.Scope)
	}
}

// Cancel cancels the active run for scope, reporting whether one existed.
func (r *Runner) Cancel(scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, exists := r.runs[scope]
	if exists {
		run.cancel()
	}
	return exists
}

// CancelPrefix cancels every active run whose scope starts with prefix.
// Used when a book is closed.
func (r *Runner) CancelPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancelled := 0
	for scope, run := range r.runs {
		if strings.HasPrefix(scope, prefix) {
			run.cancel()
			cancelled++
		}
	}
	return cancelled
}

// StartChapter walks units in (paragraph, sentence) order: cache hits are
// served without a network call, provider failures mark the unit and the
// run continues, cancellation stops the run immediately leaving remaining
// units untouched. Re-running a fully translated chapter short-circuits
// every unit to a cache hit.
func (r *Runner) StartChapter(scope string, client *Client, units []Unit, onProgress ChapterProgress, onUnit UnitCallback) *Run {
	run := r.begin(scope)

	go func() {
		defer close(run.done)
		defer r.finish(run)

		total := len(units)
		for i, unit := range units {
			if run.ctx.Err() != nil {
				run.fail(ErrCancelled)
				return
			}

			res, err := r.processUnit(run.ctx, client, unit)
			if err != nil {
				run.fail(err)
				return
			}

			run.append(res)
			if onUnit != nil {
				onUnit(res)
			}
			if onProgress != nil {
				onProgress(i+1, total)
			}
		}

		r.logger.Debugf("Chapter run %s completed (%d units)", run.ID, total)
	}()

	return run
}

// StartBook translates a whole book at paragraph granularity through the
// same unit path and assembles the bilingual EPUB. Cancellation fails the
// run with ErrCancelled and produces no file; a failed paragraph gets a
// visible marker and the export continues.
func (r *Runner) StartBook(scope string, client *Client, source Source, onProgress BookProgress) *Run {
	run := r.begin(scope)

	go func() {
		defer close(run.done)
		defer r.finish(run)

		total := source.ChapterCount()
		chapters := make([]epub.BilingualChapter, 0, total)

		for ci := 0; ci < total; ci++ {
			if run.ctx.Err() != nil {
				run.fail(ErrCancelled)
				return
			}

			content, err := source.ChapterContent(ci)
			if err != nil {
				run.fail(err)
				return
			}

			if onProgress != nil {
				onProgress(ci, total, fmt.Sprintf("Translating chapter %d/%d: %s", ci+1, total, content.Title))
			}

			chapter := epub.BilingualChapter{Title: content.Title}
			for pi, para := range content.Paragraphs {
				// Checked per paragraph, not just per chapter: a fully
				// cached chapter never reaches the network, and the network
				// call is the only other cancellation point.
				if run.ctx.Err() != nil {
					run.fail(ErrCancelled)
					return
				}

				unit := ParagraphUnit(source.BookID(), ci, pi, para)
				res, err := r.processUnit(run.ctx, client, unit)
				if err != nil {
					run.fail(err)
					return
				}

				bp := epub.BilingualParagraph{Markup: para.Markup, IsImage: para.IsImage}
				switch {
				case res.Failure != "":
					bp.Translation = FailureMarker
				case !res.Skipped:
					bp.Translation = res.Translation
				}
				chapter.Paragraphs = append(chapter.Paragraphs, bp)
			}
			chapters = append(chapters, chapter)
		}

		if run.ctx.Err() != nil {
			run.fail(ErrCancelled)
			return
		}

		if onProgress != nil {
			onProgress(total, total, "Generating EPUB file")
		}

		blob, err := r.builder.BuildBilingual(source.Title(), client.Config().TargetLang, chapters)
		if err != nil {
			run.fail(err)
			return
		}
		run.setOutput(blob)
	}()

	return run
}

// processUnit handles one unit: skip, cache hit, or translate-and-cache.
// The returned error is non-nil only for conditions that abort the whole
// run (cancellation, missing configuration); provider failures are
// recorded on the result so the batch continues.
func (r *Runner) processUnit(ctx context.Context, client *Client, unit Unit) (UnitResult, error) {
	res := UnitResult{Unit: unit}

	if unit.Kind == UnitImage || utf8.RuneCountInString(strings.TrimSpace(unit.SourceText)) < minTranslatableRunes {
		res.Skipped = true
		return res, nil
	}

	key := unit.cacheKey(client.Model())
	cached, hit, err := r.cache.Get(key)
	if err != nil {
		r.logger.Warnf("Cache read failed for %s: %v", key, err)
	} else if hit {
		res.Translation = cached
		res.FromCache = true
		return res, nil
	}

	translated, err := client.Translate(ctx, unit.SourceText)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrNotConfigured) {
			return res, err
		}
		r.logger.Warnf("Unit %d/%d/%d failed: %v", unit.Chapter, unit.Paragraph, unit.Sentence, err)
		res.Failure = err.Error()
		return res, nil
	}

	// The cache is written only after full success, so an aborted call
	// never leaves a partial entry behind.
	if err := r.cache.Put(key, translated); err != nil {
		r.logger.Warnf("Cache write failed for %s: %v", key, err)
	}

	res.Translation = translated
	return res, nil
}

// CachedTranslations looks up existing translations for units without any
// network traffic, for rendering a chapter's current bilingual state.
func (r *Runner) CachedTranslations(units []Unit, model string) map[int]string {
	found := make(map[int]string)
	for i, unit := range units {
		if unit.Kind == UnitImage {
			continue
		}
		if text, hit, err := r.cache.Get(unit.cacheKey(model)); err == nil && hit {
			found[i] = text
		}
	}
	return found
}
