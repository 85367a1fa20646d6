package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BilingualParagraph is one paragraph of export output: the original
// markup, optionally followed by its translation. Image paragraphs pass
// through untouched.
type BilingualParagraph struct {
	Markup      string
	Translation string
	IsImage     bool
}

type BilingualChapter struct {
	Title      string
	Paragraphs []BilingualParagraph
}

// Builder assembles a bilingual EPUB 3 container from accumulated chapter
// content. It has no knowledge of how the caller persists the result.
type Builder struct {
	logger *logrus.Logger
}

func NewBuilder(logger *logrus.Logger) *Builder {
	return &Builder{
		logger: logger,
	}
}

// BuildBilingual produces a complete EPUB 3 blob: stored mimetype entry,
// container descriptor, package document, stylesheet, navigation document
// and one XHTML file per chapter interleaving original and translated text.
func (b *Builder) BuildBilingual(title, lang string, chapters []BilingualChapter) ([]byte, error) {
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no chapters to export")
	}
	if lang == "" {
		lang = "en"
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	if err := writeMimetype(w); err != nil {
		return nil, fmt.Errorf("failed to write mimetype: %w", err)
	}

	entries := map[string]string{
		"META-INF/container.xml": containerXML,
		"OEBPS/styles.css":       bilingualStylesheet,
		"OEBPS/content.opf":      b.packageDocument(title, lang, len(chapters)),
		"OEBPS/nav.xhtml":        b.navDocument(title, chapters),
	}
	for i, chapter := range chapters {
		entries[chapterFileName(i)] = b.chapterDocument(chapter, lang)
	}

	for name, content := range entries {
		writer, err := w.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}
		if _, err := writer.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize EPUB: %w", err)
	}

	b.logger.Infof("Built bilingual EPUB %q (%d chapters, %d bytes)", title, len(chapters), buf.Len())
	return buf.Bytes(), nil
}

// The mimetype entry must come first and must be stored uncompressed.
func writeMimetype(w *zip.Writer) error {
	writer, err := w.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return err
	}
	_, err = writer.Write([]byte("application/epub+zip"))
	return err
}

func chapterFileName(index int) string {
	return fmt.Sprintf("OEBPS/chapter_%03d.xhtml", index+1)
}

func chapterHref(index int) string {
	return fmt.Sprintf("chapter_%03d.xhtml", index+1)
}

func (b *Builder) packageDocument(title, lang string, chapterCount int) string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<package version="3.0" unique-identifier="book-id" xmlns="http://www.idpf.org/2007/opf">` + "\n")

	sb.WriteString("  <metadata xmlns:dc=\"http://purl.org/dc/elements/1.1/\">\n")
	sb.WriteString(fmt.Sprintf("    <dc:identifier id=\"book-id\">urn:uuid:%s</dc:identifier>\n", uuid.New().String()))
	sb.WriteString(fmt.Sprintf("    <dc:title>%s (Bilingual)</dc:title>\n", escapeXML(title)))
	sb.WriteString(fmt.Sprintf("    <dc:language>%s</dc:language>\n", escapeXML(lang)))
	sb.WriteString("    <dc:creator>Bilingual EPUB Reader</dc:creator>\n")
	sb.WriteString(fmt.Sprintf("    <meta property=\"dcterms:modified\">%s</meta>\n", time.Now().UTC().Format("2006-01-02T15:04:05Z")))
	sb.WriteString("  </metadata>\n")

	sb.WriteString("  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"css\" href=\"styles.css\" media-type=\"text/css\"/>\n")
	for i := 0; i < chapterCount; i++ {
		sb.WriteString(fmt.Sprintf("    <item id=\"chapter-%d\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n", i+1, chapterHref(i)))
	}
	sb.WriteString("  </manifest>\n")

	sb.WriteString("  <spine>\n")
	for i := 0; i < chapterCount; i++ {
		sb.WriteString(fmt.Sprintf("    <itemref idref=\"chapter-%d\"/>\n", i+1))
	}
	sb.WriteString("  </spine>\n")

	sb.WriteString("</package>\n")
	return sb.String()
}

func (b *Builder) navDocument(title string, chapters []BilingualChapter) string {
	var sb strings.Builder

	sb.WriteString(xhtmlProlog)
	sb.WriteString(fmt.Sprintf("<html xmlns=\"http://www.w3.org/1999/xhtml\" xmlns:epub=\"http://www.idpf.org/2007/ops\">\n<head>\n  <title>%s</title>\n</head>\n<body>\n", escapeXML(title)))
	sb.WriteString("  <nav epub:type=\"toc\">\n    <h1>Contents</h1>\n    <ol>\n")
	for i, chapter := range chapters {
		label := chapter.Title
		if label == "" {
			label = fmt.Sprintf("Chapter %d", i+1)
		}
		sb.WriteString(fmt.Sprintf("      <li><a href=\"%s\">%s</a></li>\n", chapterHref(i), escapeXML(label)))
	}
	sb.WriteString("    </ol>\n  </nav>\n</body>\n</html>\n")
	return sb.String()
}

func (b *Builder) chapterDocument(chapter BilingualChapter, lang string) string {
	var sb strings.Builder

	sb.WriteString(xhtmlProlog)
	sb.WriteString(fmt.Sprintf("<html xmlns=\"http://www.w3.org/1999/xhtml\" lang=\"%s\">\n<head>\n", escapeXML(lang)))
	sb.WriteString(fmt.Sprintf("  <title>%s</title>\n", escapeXML(chapter.Title)))
	sb.WriteString("  <link rel=\"stylesheet\" type=\"text/css\" href=\"styles.css\"/>\n</head>\n<body>\n")

	for _, para := range chapter.Paragraphs {
		if para.IsImage {
			sb.WriteString(para.Markup)
			sb.WriteString("\n")
			continue
		}
		sb.WriteString("<div class=\"original\">")
		sb.WriteString(para.Markup)
		sb.WriteString("</div>\n")
		if para.Translation != "" {
			sb.WriteString(fmt.Sprintf("<div class=\"translation\">%s</div>\n", escapeXML(para.Translation)))
		}
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

const xhtmlProlog = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
`

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

const bilingualStylesheet = `body {
  font-family: serif;
  line-height: 1.6;
  margin: 0;
  padding: 1em;
}

.original {
  margin-bottom: 0.2em;
}

.translation {
  border-left: 3px solid #8a8a8a;
  padding-left: 0.8em;
  margin: 0.2em 0 1em 0.4em;
  color: #444;
}
`

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
