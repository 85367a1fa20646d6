package translate

import (
	"strings"

	"github.com/liquidsax/epub-reader/internal/cache"
	"github.com/liquidsax/epub-reader/internal/epub"
	"github.com/liquidsax/epub-reader/internal/segment"
)

// UnitKind governs whether a unit is split into sentences and whether
// translation is attempted.
type UnitKind string

const (
	UnitText    UnitKind = "text"
	UnitHeading UnitKind = "heading"
	UnitImage   UnitKind = "image"
)

// Unit is the smallest independently translatable span of text. The
// (BookID, Chapter, Paragraph, Sentence) tuple uniquely identifies it
// within one load session. In book-export mode units are whole paragraphs
// and the paragraph index doubles as the sentence coordinate.
type Unit struct {
	BookID       string   `json:"-"`
	Chapter      int      `json:"chapter"`
	Paragraph    int      `json:"paragraph"`
	Sentence     int      `json:"sentence"`
	SourceText   string   `json:"source_text,omitempty"`
	SourceMarkup string   `json:"source_markup,omitempty"`
	Kind         UnitKind `json:"kind"`
}

func (u Unit) cacheKey(model string) cache.Key {
	return cache.Key{
		BookID:    u.BookID,
		Chapter:   u.Chapter,
		Paragraph: u.Paragraph,
		Unit:      u.Sentence,
		Model:     model,
	}
}

// UnitResult is the outcome of processing one unit in a run.
type UnitResult struct {
	Unit        Unit   `json:"unit"`
	Translation string `json:"translation,omitempty"`
	FromCache   bool   `json:"from_cache,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Failure     string `json:"failure,omitempty"`
}

func paragraphKind(para epub.Paragraph) UnitKind {
	switch {
	case para.IsImage:
		return UnitImage
	case len(para.Tag) == 2 && para.Tag[0] == 'h':
		return UnitHeading
	default:
		return UnitText
	}
}

// ChapterUnits expands extracted chapter content into sentence-granularity
// units for interactive reading. Text paragraphs are split into sentences;
// headings and images stay whole at sentence index zero.
func ChapterUnits(bookID string, chapter int, content *epub.ChapterContent) []Unit {
	var units []Unit
	for pi, para := range content.Paragraphs {
		kind := paragraphKind(para)
		switch kind {
		case UnitImage:
			units = append(units, Unit{
				BookID:       bookID,
				Chapter:      chapter,
				Paragraph:    pi,
				SourceMarkup: para.Markup,
				Kind:         UnitImage,
			})
		case UnitHeading:
			units = append(units, Unit{
				BookID:       bookID,
				Chapter:      chapter,
				Paragraph:    pi,
				SourceText:   strings.TrimSpace(para.Text),
				SourceMarkup: para.Markup,
				Kind:         UnitHeading,
			})
		default:
			for si, sentence := range segment.Split(para.Text) {
				units = append(units, Unit{
					BookID:     bookID,
					Chapter:    chapter,
					Paragraph:  pi,
					Sentence:   si,
					SourceText: sentence,
					Kind:       UnitText,
				})
			}
		}
	}
	return units
}

// ParagraphUnit builds the single paragraph-granularity unit used by book
// export. The paragraph index doubles as the unit id in the cache key.
func ParagraphUnit(bookID string, chapter, paragraph int, para epub.Paragraph) Unit {
	return Unit{
		BookID:       bookID,
		Chapter:      chapter,
		Paragraph:    paragraph,
		Sentence:     paragraph,
		SourceText:   strings.TrimSpace(para.Text),
		SourceMarkup: para.Markup,
		Kind:         paragraphKind(para),
	}
}
