package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// blockSelector lists the block-level elements that each become one
// paragraph record. Inline markup stays inside the enclosing block.
const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, td, th, pre, figcaption, img, image"

// containerSelector matches blocks whose text lives in nested blocks;
// emitting those too would duplicate content.
const containerSelector = "p, h1, h2, h3, h4, h5, h6, li"

type Parser struct {
	logger  *logrus.Logger
	tempDir string
}

func NewParser(logger *logrus.Logger, tempDir string) *Parser {
	return &Parser{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Extract unpacks an EPUB file and parses its container and package
// documents into a Book with spine-ordered chapter references.
func (p *Parser) Extract(epubPath string) (*Book, error) {
	p.logger.Debugf("Extracting EPUB: %s", epubPath)

	id := uuid.New().String()
	extractDir := filepath.Join(p.tempDir, id)

	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	book := &Book{
		ID:        id,
		FilePath:  epubPath,
		TempDir:   extractDir,
		CreatedAt: time.Now(),
	}

	if err := p.extractZip(epubPath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to extract ZIP: %w", err)
	}

	if err := p.parseContainer(book); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}

	if err := p.parsePackage(book); err != nil {
		return nil, fmt.Errorf("failed to parse package: %w", err)
	}

	if err := p.collectChapters(book); err != nil {
		return nil, fmt.Errorf("failed to collect chapters: %w", err)
	}

	p.logger.Debugf("Extracted EPUB %q with %d chapters", book.Title(), len(book.Chapters))
	return book, nil
}

// Cleanup removes a book's extracted temp directory.
func (p *Parser) Cleanup(book *Book) error {
	if book.TempDir == "" {
		return nil
	}
	return os.RemoveAll(book.TempDir)
}

func (p *Parser) extractZip(src, dest string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := p.extractFile(file, dest); err != nil {
			return err
		}
	}

	return nil
}

func (p *Parser) extractFile(file *zip.File, dest string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	path := filepath.Join(dest, file.Name)
	if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal entry path: %s", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(path, file.FileInfo().Mode())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.FileInfo().Mode())
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rc)
	return err
}

func (p *Parser) parseContainer(book *Book) error {
	containerPath := filepath.Join(book.TempDir, "META-INF", "container.xml")

	data, err := os.ReadFile(containerPath)
	if err != nil {
		return fmt.Errorf("failed to read container.xml: %w", err)
	}

	if err := xml.Unmarshal(data, &book.Container); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}

	if len(book.Container.Rootfiles) == 0 {
		return fmt.Errorf("no rootfiles found in container.xml")
	}

	return nil
}

func (p *Parser) parsePackage(book *Book) error {
	packagePath := filepath.Join(book.TempDir, book.Container.Rootfiles[0].FullPath)
	book.Package.OriginalPath = book.Container.Rootfiles[0].FullPath

	data, err := os.ReadFile(packagePath)
	if err != nil {
		return fmt.Errorf("failed to read package file: %w", err)
	}

	if err := xml.Unmarshal(data, &book.Package); err != nil {
		return fmt.Errorf("failed to parse package file: %w", err)
	}

	return nil
}

func (p *Parser) collectChapters(book *Book) error {
	packageDir := filepath.Dir(filepath.Join(book.TempDir, book.Package.OriginalPath))

	itemMap := make(map[string]Item)
	for _, item := range book.Package.Manifest.Items {
		itemMap[item.ID] = item
	}

	for _, itemRef := range book.Package.Spine.ItemRefs {
		item, exists := itemMap[itemRef.IDRef]
		if !exists {
			p.logger.Warnf("Item not found in manifest: %s", itemRef.IDRef)
			continue
		}

		if !isTextContent(item.MediaType) {
			continue
		}

		chapterPath := filepath.Join(packageDir, item.Href)
		book.Chapters = append(book.Chapters, ChapterRef{
			Title:    extractTitle(chapterPath),
			Href:     item.Href,
			FilePath: chapterPath,
		})
	}

	if len(book.Chapters) == 0 {
		return fmt.Errorf("no readable chapters in spine")
	}

	return nil
}

// ChapterContent extracts one chapter's ordered paragraph records: block
// elements become one record each, scripts/styles/navigation asides are
// dropped, and standalone images pass through as markup-only records.
func (b *Book) ChapterContent(index int) (*ChapterContent, error) {
	if index < 0 || index >= len(b.Chapters) {
		return nil, &ExtractionError{Chapter: index, Err: fmt.Errorf("chapter index out of range (book has %d chapters)", len(b.Chapters))}
	}

	ref := b.Chapters[index]
	data, err := os.ReadFile(ref.FilePath)
	if err != nil {
		return nil, &ExtractionError{Chapter: index, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, &ExtractionError{Chapter: index, Err: err}
	}

	doc.Find("script, style, nav, aside").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	content := &ChapterContent{Title: ref.Title}
	if content.Title == "" {
		content.Title = fmt.Sprintf("Chapter %d", index+1)
	}

	root.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)

		if tag == "img" || tag == "image" {
			// Images embedded in a text block stay inside that block's
			// markup; only standalone images become their own record.
			enclosing := sel.Closest(containerSelector + ", figcaption, blockquote, td, th")
			if enclosing.Length() > 0 && strings.TrimSpace(enclosing.Text()) != "" {
				return
			}
			markup, err := goquery.OuterHtml(sel)
			if err != nil {
				return
			}
			content.Paragraphs = append(content.Paragraphs, Paragraph{
				Markup:  markup,
				Tag:     tag,
				IsImage: true,
			})
			return
		}

		if sel.Find(containerSelector).Length() > 0 {
			return
		}

		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}

		markup, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}

		content.Paragraphs = append(content.Paragraphs, Paragraph{
			Text:   text,
			Markup: markup,
			Tag:    tag,
		})
	})

	return content, nil
}

// PlainTextSample returns up to maxLen characters of running text from the
// first chapters, used for source-language detection.
func (b *Book) PlainTextSample(maxLen int) string {
	var sb strings.Builder
	for i := 0; i < len(b.Chapters) && sb.Len() < maxLen; i++ {
		content, err := b.ChapterContent(i)
		if err != nil {
			continue
		}
		for _, para := range content.Paragraphs {
			if para.IsImage {
				continue
			}
			sb.WriteString(para.Text)
			sb.WriteString("\n")
			if sb.Len() >= maxLen {
				break
			}
		}
	}
	sample := sb.String()
	if len(sample) > maxLen {
		sample = sample[:maxLen]
	}
	return sample
}

func extractTitle(chapterPath string) string {
	data, err := os.ReadFile(chapterPath)
	if err != nil {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return ""
	}

	title := strings.TrimSpace(doc.Find("h1, h2, h3").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return title
}

func isTextContent(mediaType string) bool {
	return strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xhtml")
}
