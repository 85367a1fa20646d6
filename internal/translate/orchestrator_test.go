package translate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidsax/epub-reader/internal/cache"
	"github.com/liquidsax/epub-reader/internal/epub"
)

// mockEngine translates by prefixing "T:", fails any text containing
// "boom", and holds any text containing "hang" open until aborted.
func mockEngine(t *testing.T, calls *atomic.Int64) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		text := req.Messages[len(req.Messages)-1].Content

		if calls != nil {
			calls.Add(1)
		}

		switch {
		case strings.Contains(text, "hang"):
			<-r.Context().Done()
		case strings.Contains(text, "boom"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded"}}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionResponse("T:" + text)))
		}
	}))
	t.Cleanup(server.Close)

	return NewClient(EngineConfig{
		BaseURL: server.URL, APIKey: "k", Model: "test-model",
		SourceLang: "en", TargetLang: "zh", Style: "natural",
	}, testLogger())
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	store, err := cache.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRunner(store, epub.NewBuilder(testLogger()), testLogger())
}

func textUnits(texts ...string) []Unit {
	units := make([]Unit, len(texts))
	for i, text := range texts {
		units[i] = Unit{
			BookID:     "book-1",
			Chapter:    0,
			Paragraph:  i,
			Sentence:   0,
			SourceText: text,
			Kind:       UnitText,
		}
	}
	return units
}

func TestChapterRunPartialFailure(t *testing.T) {
	runner := newTestRunner(t)
	client := mockEngine(t, nil)

	units := textUnits(
		"First sentence here.",
		"Second sentence here.",
		"This one goes boom.",
		"Fourth sentence here.",
		"Fifth sentence here.",
	)

	var progress []int
	run := runner.StartChapter("scope", client, units, func(done, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, done)
	}, nil)
	<-run.Done()

	require.NoError(t, run.Err())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress, "progress fires once per unit, strictly increasing")

	results := run.Results()
	require.Len(t, results, 5)
	assert.Equal(t, "T:First sentence here.", results[0].Translation)
	assert.NotEmpty(t, results[2].Failure, "failed unit carries its message")
	assert.Empty(t, results[2].Translation)
	assert.Equal(t, "T:Fifth sentence here.", results[4].Translation, "failure must not abort the chapter")
}

func TestChapterRunCancellation(t *testing.T) {
	runner := newTestRunner(t)
	var calls atomic.Int64
	client := mockEngine(t, &calls)

	units := textUnits(
		"First sentence here.",
		"This request will hang forever.",
		"Third never attempted.",
		"Fourth never attempted.",
		"Fifth never attempted.",
	)

	var progress []int
	run := runner.StartChapter("scope", client, units, func(done, total int) {
		progress = append(progress, done)
	}, nil)

	// Let unit 1 finish and unit 2 get stuck in flight, then cancel.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	run.Cancel()
	<-run.Done()

	assert.ErrorIs(t, run.Err(), ErrCancelled)
	assert.Equal(t, []int{1}, progress)
	assert.Equal(t, int64(2), calls.Load(), "units after the aborted one are never attempted")

	// The aborted unit must not have been cached.
	found := runner.CachedTranslations(units, client.Model())
	assert.Contains(t, found, 0)
	assert.NotContains(t, found, 1)
}

func TestChapterRunSkipsShortAndImageUnits(t *testing.T) {
	runner := newTestRunner(t)
	var calls atomic.Int64
	client := mockEngine(t, &calls)

	units := []Unit{
		{BookID: "b", Paragraph: 0, SourceMarkup: `<img src="x.png"/>`, Kind: UnitImage},
		{BookID: "b", Paragraph: 1, SourceText: "ab", Kind: UnitText},
		{BookID: "b", Paragraph: 2, SourceText: "A real sentence.", Kind: UnitText},
	}

	run := runner.StartChapter("scope", client, units, nil, nil)
	<-run.Done()

	require.NoError(t, run.Err())
	results := run.Results()
	assert.True(t, results[0].Skipped)
	assert.True(t, results[1].Skipped)
	assert.False(t, results[2].Skipped)
	assert.Equal(t, int64(1), calls.Load(), "only the real sentence hits the network")
}

func TestChapterRunIdempotentViaCache(t *testing.T) {
	runner := newTestRunner(t)
	var calls atomic.Int64
	client := mockEngine(t, &calls)

	units := textUnits("First sentence here.", "Second sentence here.", "Third sentence here.")

	first := runner.StartChapter("scope", client, units, nil, nil)
	<-first.Done()
	require.NoError(t, first.Err())
	assert.Equal(t, int64(3), calls.Load())

	second := runner.StartChapter("scope", client, units, nil, nil)
	<-second.Done()
	require.NoError(t, second.Err())

	assert.Equal(t, int64(3), calls.Load(), "re-run must be served entirely from cache")
	for _, res := range second.Results() {
		assert.True(t, res.FromCache)
	}
}

func TestStartingNewRunCancelsPrevious(t *testing.T) {
	runner := newTestRunner(t)
	client := mockEngine(t, nil)

	hanging := textUnits("This request will hang forever.")
	first := runner.StartChapter("scope", client, hanging, nil, nil)

	// Give the first run time to get in flight.
	time.Sleep(50 * time.Millisecond)

	second := runner.StartChapter("scope", client, textUnits("Quick sentence here."), nil, nil)
	<-first.Done()
	<-second.Done()

	assert.ErrorIs(t, first.Err(), ErrCancelled)
	require.NoError(t, second.Err())
}

func TestCancelPrefix(t *testing.T) {
	runner := newTestRunner(t)
	client := mockEngine(t, nil)

	runA := runner.StartChapter("book-1/chapter/0", client, textUnits("This request will hang forever."), nil, nil)
	runB := runner.StartChapter("book-1/chapter/1", client, textUnits("Another hang request."), nil, nil)

	time.Sleep(50 * time.Millisecond)
	cancelled := runner.CancelPrefix("book-1/")
	assert.Equal(t, 2, cancelled)

	<-runA.Done()
	<-runB.Done()
	assert.ErrorIs(t, runA.Err(), ErrCancelled)
	assert.ErrorIs(t, runB.Err(), ErrCancelled)
}

// testSource is a fixed in-memory book for export tests.
type testSource struct {
	chapters []*epub.ChapterContent
}

func (s *testSource) BookID() string   { return "book-1" }
func (s *testSource) Title() string    { return "Demo" }
func (s *testSource) Language() string { return "en" }
func (s *testSource) ChapterCount() int { return len(s.chapters) }
func (s *testSource) ChapterContent(i int) (*epub.ChapterContent, error) {
	if i < 0 || i >= len(s.chapters) {
		return nil, &epub.ExtractionError{Chapter: i}
	}
	return s.chapters[i], nil
}

func exportSource() *testSource {
	return &testSource{chapters: []*epub.ChapterContent{
		{
			Title: "One",
			Paragraphs: []epub.Paragraph{
				{Text: "A translatable paragraph.", Markup: "<p>A translatable paragraph.</p>", Tag: "p"},
				{Markup: `<img src="pic.png"/>`, Tag: "img", IsImage: true},
				{Text: "This paragraph goes boom.", Markup: "<p>This paragraph goes boom.</p>", Tag: "p"},
			},
		},
		{
			Title: "Two",
			Paragraphs: []epub.Paragraph{
				{Text: "Closing words of the book.", Markup: "<p>Closing words of the book.</p>", Tag: "p"},
			},
		},
	}}
}

func TestBookRunProducesBilingualEPUB(t *testing.T) {
	runner := newTestRunner(t)
	client := mockEngine(t, nil)

	var statuses []string
	run := runner.StartBook("book-1/book", client, exportSource(), func(chapter, total int, status string) {
		assert.Equal(t, 2, total)
		statuses = append(statuses, status)
	})
	<-run.Done()

	require.NoError(t, run.Err())
	blob := run.Output()
	require.NotEmpty(t, blob)

	require.NotEmpty(t, statuses)
	assert.Contains(t, statuses[len(statuses)-1], "Generating")

	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)

	var chapterOne string
	for _, f := range reader.File {
		if f.Name == "OEBPS/chapter_001.xhtml" {
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			_ = rc.Close()
			chapterOne = string(data)
		}
	}
	require.NotEmpty(t, chapterOne)

	assert.Contains(t, chapterOne, "T:A translatable paragraph.")
	assert.Contains(t, chapterOne, `<img src="pic.png"/>`)
	assert.Contains(t, chapterOne, FailureMarker, "failed paragraph gets a visible marker, export continues")
}

func TestBookRunCancellation(t *testing.T) {
	runner := newTestRunner(t)
	client := mockEngine(t, nil)

	source := &testSource{chapters: []*epub.ChapterContent{
		{
			Title: "One",
			Paragraphs: []epub.Paragraph{
				{Text: "This request will hang forever.", Markup: "<p>x</p>", Tag: "p"},
			},
		},
	}}

	run := runner.StartBook("book-1/book", client, source, nil)
	time.Sleep(50 * time.Millisecond)
	run.Cancel()
	<-run.Done()

	assert.ErrorIs(t, run.Err(), ErrCancelled)
	assert.Empty(t, run.Output(), "no partial file on cancellation")
}

// gatedSource holds the fetch of chapter 1 open so the test can time
// cancellation deterministically between fully cached paragraphs.
type gatedSource struct {
	inner   *testSource
	fetched chan int
	release chan struct{}
}

func (s *gatedSource) BookID() string    { return s.inner.BookID() }
func (s *gatedSource) Title() string     { return s.inner.Title() }
func (s *gatedSource) Language() string  { return s.inner.Language() }
func (s *gatedSource) ChapterCount() int { return s.inner.ChapterCount() }
func (s *gatedSource) ChapterContent(i int) (*epub.ChapterContent, error) {
	if i == 1 {
		s.fetched <- i
		<-s.release
	}
	return s.inner.ChapterContent(i)
}

func TestBookRunCancellationBetweenCachedParagraphs(t *testing.T) {
	runner := newTestRunner(t)
	var calls atomic.Int64
	client := mockEngine(t, &calls)

	source := &gatedSource{
		inner: &testSource{chapters: []*epub.ChapterContent{
			{Title: "One", Paragraphs: []epub.Paragraph{
				{Text: "Cached paragraph zero.", Markup: "<p>Cached paragraph zero.</p>", Tag: "p"},
			}},
			{Title: "Two", Paragraphs: []epub.Paragraph{
				{Text: "Cached paragraph one.", Markup: "<p>Cached paragraph one.</p>", Tag: "p"},
			}},
		}},
		fetched: make(chan int),
		release: make(chan struct{}),
	}

	// Every paragraph is already translated, so the run would finish
	// without a single network call.
	for ci := 0; ci < 2; ci++ {
		key := cache.Key{BookID: "book-1", Chapter: ci, Paragraph: 0, Unit: 0, Model: client.Model()}
		require.NoError(t, runner.cache.Put(key, "cached"))
	}

	run := runner.StartBook("book-1/book", client, source, nil)
	<-source.fetched
	run.Cancel()
	close(source.release)
	<-run.Done()

	assert.ErrorIs(t, run.Err(), ErrCancelled)
	assert.Empty(t, run.Output(), "no file once cancellation fires, even with every paragraph cached")
	assert.Equal(t, int64(0), calls.Load(), "cache hits never touch the network")
}

func TestChapterUnits(t *testing.T) {
	content := &epub.ChapterContent{
		Title: "One",
		Paragraphs: []epub.Paragraph{
			{Text: "The Beginning", Markup: "<h1>The Beginning</h1>", Tag: "h1"},
			{Text: "First sentence of a long paragraph that certainly clears the splitting threshold with ease. Second sentence follows it.", Tag: "p"},
			{Markup: `<img src="map.png"/>`, Tag: "img", IsImage: true},
		},
	}

	units := ChapterUnits("book-1", 3, content)
	require.Len(t, units, 4)

	assert.Equal(t, UnitHeading, units[0].Kind)
	assert.Equal(t, 0, units[0].Sentence, "headings are not split")

	assert.Equal(t, UnitText, units[1].Kind)
	assert.Equal(t, 1, units[1].Paragraph)
	assert.Equal(t, 0, units[1].Sentence)
	assert.Equal(t, 1, units[2].Sentence)

	assert.Equal(t, UnitImage, units[3].Kind)
	for _, u := range units {
		assert.Equal(t, "book-1", u.BookID)
		assert.Equal(t, 3, u.Chapter)
	}
}

func TestParagraphUnit(t *testing.T) {
	para := epub.Paragraph{Text: "Some paragraph text.", Markup: "<p>Some paragraph text.</p>", Tag: "p"}
	unit := ParagraphUnit("book-1", 2, 7, para)

	assert.Equal(t, 7, unit.Paragraph)
	assert.Equal(t, 7, unit.Sentence, "paragraph index doubles as the unit id in export mode")
	assert.Equal(t, UnitText, unit.Kind)
}
