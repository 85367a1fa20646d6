package epub

import (
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// Book is one loaded EPUB: container metadata plus spine-ordered chapter
// references. Chapter content is extracted lazily per chapter.
type Book struct {
	ID        string       `json:"id"` // session id for temp storage, not the stable book identity
	FilePath  string       `json:"file_path"`
	TempDir   string       `json:"temp_dir"`
	Container Container    `json:"container"`
	Package   Package      `json:"package"`
	Chapters  []ChapterRef `json:"chapters"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChapterRef points at one spine item without holding its content.
type ChapterRef struct {
	Title    string `json:"title"`
	Href     string `json:"href"`
	FilePath string `json:"file_path"`
}

// Paragraph is one block-level record extracted from a chapter. Inline
// content is merged into the enclosing block; images pass through as
// markup-only records.
type Paragraph struct {
	Text    string `json:"text"`
	Markup  string `json:"markup"`
	Tag     string `json:"tag"`
	IsImage bool   `json:"is_image"`
}

// ChapterContent is the extractor output consumed by the translation core.
type ChapterContent struct {
	Title      string      `json:"title"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// ExtractionError reports a chapter that could not be loaded. Other
// chapters are unaffected.
type ExtractionError struct {
	Chapter int
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract chapter %d: %v", e.Chapter, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// BookID returns the stable identity used in cache keys: the package
// metadata identifier, or a hash of the title when the identifier is
// absent. Stable across re-opens of the same file, not across structurally
// different EPUBs.
func (b *Book) BookID() string {
	if id := b.Package.Metadata.Identifier; id != "" {
		return id
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(b.Package.Metadata.Title))
	return "title-" + strconv.FormatUint(uint64(h.Sum32()), 16)
}

func (b *Book) Title() string {
	if b.Package.Metadata.Title != "" {
		return b.Package.Metadata.Title
	}
	return "Untitled"
}

func (b *Book) Language() string {
	return b.Package.Metadata.Language
}

func (b *Book) ChapterCount() int {
	return len(b.Chapters)
}

type Container struct {
	XMLName   xml.Name `xml:"container"`
	Version   string   `xml:"version,attr"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName      xml.Name `xml:"package"`
	Version      string   `xml:"version,attr"`
	UniqueID     string   `xml:"unique-identifier,attr"`
	Metadata     Metadata `xml:"metadata"`
	Manifest     Manifest `xml:"manifest"`
	Spine        Spine    `xml:"spine"`
	OriginalPath string   `json:"original_path"`
}

type Metadata struct {
	XMLName    xml.Name `xml:"metadata"`
	Title      string   `xml:"title"`
	Language   string   `xml:"language"`
	Identifier string   `xml:"identifier"`
	Creator    string   `xml:"creator"`
	Publisher  string   `xml:"publisher"`
	Date       string   `xml:"date"`
}

type Manifest struct {
	XMLName xml.Name `xml:"manifest"`
	Items   []Item   `xml:"item"`
}

type Item struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type Spine struct {
	XMLName  xml.Name  `xml:"spine"`
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}
