package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func buildTestEPUB(t *testing.T, chapters []BilingualChapter) *zip.Reader {
	t.Helper()
	builder := NewBuilder(testLogger())
	blob, err := builder.BuildBilingual("Demo", "en", chapters)
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)
	return reader
}

func readEntry(t *testing.T, reader *zip.Reader, name string) string {
	t.Helper()
	for _, f := range reader.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(data)
		}
	}
	t.Fatalf("entry %s not found in EPUB", name)
	return ""
}

func sampleChapters() []BilingualChapter {
	return []BilingualChapter{
		{
			Title: "One",
			Paragraphs: []BilingualParagraph{
				{Markup: "<p>Hello world.</p>", Translation: "你好，世界。"},
				{Markup: `<img src="pic.png"/>`, IsImage: true},
				{Markup: "<p>Untranslated.</p>"},
			},
		},
		{
			Title: "Two",
			Paragraphs: []BilingualParagraph{
				{Markup: "<p>Second chapter.</p>", Translation: "第二章。"},
			},
		},
	}
}

func TestBuildBilingualMimetype(t *testing.T) {
	reader := buildTestEPUB(t, sampleChapters())

	require.NotEmpty(t, reader.File)
	first := reader.File[0]
	assert.Equal(t, "mimetype", first.Name, "mimetype must be the first entry")
	assert.Equal(t, zip.Store, first.Method, "mimetype must be stored uncompressed")
	assert.Equal(t, "application/epub+zip", readEntry(t, reader, "mimetype"))
}

func TestBuildBilingualManifestAndSpine(t *testing.T) {
	reader := buildTestEPUB(t, sampleChapters())
	opf := readEntry(t, reader, "OEBPS/content.opf")

	// One manifest item per chapter plus the navigation document.
	assert.Equal(t, 2, strings.Count(opf, `media-type="application/xhtml+xml"/>`))
	assert.Contains(t, opf, `properties="nav"`)
	assert.Equal(t, 2, strings.Count(opf, "<itemref"))
	assert.Contains(t, opf, "<dc:title>Demo (Bilingual)</dc:title>")
	assert.Contains(t, opf, "urn:uuid:")
	assert.Contains(t, opf, "dcterms:modified")
}

func TestBuildBilingualChapterContent(t *testing.T) {
	reader := buildTestEPUB(t, sampleChapters())
	chapter := readEntry(t, reader, "OEBPS/chapter_001.xhtml")

	assert.Contains(t, chapter, "<p>Hello world.</p>")
	assert.Contains(t, chapter, `<div class="translation">你好，世界。</div>`)
	assert.Contains(t, chapter, `<img src="pic.png"/>`, "image markup passes through")
	assert.Contains(t, chapter, "<p>Untranslated.</p>")
	// An untranslated paragraph gets no translation block.
	assert.Equal(t, 1, strings.Count(chapter, `<div class="translation">`))
}

func TestBuildBilingualNavDocument(t *testing.T) {
	reader := buildTestEPUB(t, sampleChapters())
	nav := readEntry(t, reader, "OEBPS/nav.xhtml")

	assert.Contains(t, nav, `<a href="chapter_001.xhtml">One</a>`)
	assert.Contains(t, nav, `<a href="chapter_002.xhtml">Two</a>`)
	assert.Contains(t, nav, `epub:type="toc"`)
}

func TestBuildBilingualEscaping(t *testing.T) {
	chapters := []BilingualChapter{
		{
			Title: "Escapes & <More>",
			Paragraphs: []BilingualParagraph{
				{Markup: "<p>Source.</p>", Translation: `<script>&"`},
			},
		},
	}
	reader := buildTestEPUB(t, chapters)
	chapter := readEntry(t, reader, "OEBPS/chapter_001.xhtml")

	assert.Contains(t, chapter, "&lt;script&gt;&amp;&quot;")
	assert.NotContains(t, chapter, "<script>")

	nav := readEntry(t, reader, "OEBPS/nav.xhtml")
	assert.Contains(t, nav, "Escapes &amp; &lt;More&gt;")
}

func TestBuildBilingualEmpty(t *testing.T) {
	builder := NewBuilder(testLogger())
	_, err := builder.BuildBilingual("Demo", "en", nil)
	assert.Error(t, err)
}
