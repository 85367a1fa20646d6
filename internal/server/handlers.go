package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/liquidsax/epub-reader/internal/config"
	"github.com/liquidsax/epub-reader/internal/translate"
)

func chapterScope(bookID string, index int) string {
	return fmt.Sprintf("%s/chapter/%d", bookID, index)
}

func bookScope(bookID string) string {
	return bookID + "/book"
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("epub")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	if filepath.Ext(file.Filename) != ".epub" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an EPUB"})
		return
	}

	if file.Size > 50*1024*1024 { // 50MB limit
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large (max 50MB)"})
		return
	}

	s.cfgMu.RLock()
	tempDir := s.cfg.App.TempDir
	s.cfgMu.RUnlock()

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		s.logger.Errorf("Failed to create temp directory: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	// Concurrent uploads of identically named files must not collide.
	tempPath := filepath.Join(tempDir, uuid.New().String()+"_"+filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		s.logger.Errorf("Failed to save uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	book, err := s.parser.Extract(tempPath)
	if err != nil {
		s.logger.Errorf("Failed to extract EPUB: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to process EPUB file"})
		return
	}

	language := book.Language()
	if language == "" {
		language = translate.DetectLanguage(book.PlainTextSample(2000))
		book.Package.Metadata.Language = language
	}

	s.booksMu.Lock()
	s.books[book.ID] = book
	s.booksMu.Unlock()

	s.logger.Infof("Successfully uploaded and processed EPUB: %s (ID: %s)", file.Filename, book.ID)
	s.wsHub.BroadcastLog("info", fmt.Sprintf("Loaded %q with %d chapters", book.Title(), book.ChapterCount()), "upload")

	c.JSON(http.StatusOK, gin.H{
		"id":       book.ID,
		"book_id":  book.BookID(),
		"title":    book.Title(),
		"language": language,
		"chapters": book.ChapterCount(),
	})
}

func (s *Server) handleGetBook(c *gin.Context) {
	book, exists := s.getBook(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}

	chapters := make([]gin.H, 0, len(book.Chapters))
	for i, ref := range book.Chapters {
		chapters = append(chapters, gin.H{"index": i, "title": ref.Title})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       book.ID,
		"book_id":  book.BookID(),
		"title":    book.Title(),
		"language": book.Language(),
		"chapters": chapters,
	})
}

func (s *Server) handleDeleteBook(c *gin.Context) {
	id := c.Param("id")
	book, exists := s.getBook(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}

	cancelled := s.runner.CancelPrefix(id + "/")
	if err := s.parser.Cleanup(book); err != nil {
		s.logger.Warnf("Failed to clean up book %s: %v", id, err)
	}

	s.booksMu.Lock()
	delete(s.books, id)
	s.booksMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"deleted": id, "cancelled_runs": cancelled})
}

// ChapterState is the bilingual snapshot of one chapter: its units plus
// whatever translations the cache already holds for the active model.
// Rendering it requires no network traffic.
type ChapterState struct {
	Chapter      int              `json:"chapter"`
	Title        string           `json:"title"`
	Model        string           `json:"model"`
	Units        []translate.Unit `json:"units"`
	Translations map[int]string   `json:"translations"`
}

func (s *Server) chapterUnits(c *gin.Context) (*ChapterState, []translate.Unit, bool) {
	book, exists := s.getBook(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return nil, nil, false
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chapter index"})
		return nil, nil, false
	}

	content, err := book.ChapterContent(index)
	if err != nil {
		s.logger.Errorf("Failed to load chapter %d of %s: %v", index, book.ID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, nil, false
	}

	units := translate.ChapterUnits(book.BookID(), index, content)
	return &ChapterState{Chapter: index, Title: content.Title}, units, true
}

func (s *Server) handleGetChapter(c *gin.Context) {
	state, units, ok := s.chapterUnits(c)
	if !ok {
		return
	}

	// Opening a chapter supersedes any run still going for it.
	s.runner.Cancel(chapterScope(c.Param("id"), state.Chapter))

	model := s.engineClient().Model()
	state.Model = model
	state.Units = units
	state.Translations = s.runner.CachedTranslations(units, model)

	c.JSON(http.StatusOK, state)
}

func (s *Server) handleTranslateChapter(c *gin.Context) {
	state, units, ok := s.chapterUnits(c)
	if !ok {
		return
	}

	client := s.engineClient()
	if !client.Configured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Translation engine is not configured. Set an API key and model first."})
		return
	}

	id := c.Param("id")
	scope := chapterScope(id, state.Chapter)
	total := len(units)

	run := s.runner.StartChapter(scope, client, units,
		func(done, total int) {
			s.wsHub.BroadcastMessage(MessageTypeTranslationProgress, ProgressMessage{
				Scope:           scope,
				BookID:          id,
				Chapter:         state.Chapter,
				Done:            done,
				Total:           total,
				ProgressPercent: float64(done) / float64(total) * 100,
			})
		},
		func(res translate.UnitResult) {
			s.wsHub.BroadcastMessage(MessageTypeUnitTranslated, res)
		})

	go s.watchRun(run, id, "")

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":      run.ID,
		"scope":       scope,
		"total_units": total,
	})
}

func (s *Server) handleTranslateBook(c *gin.Context) {
	id := c.Param("id")
	book, exists := s.getBook(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}

	client := s.engineClient()
	if !client.Configured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Translation engine is not configured. Set an API key and model first."})
		return
	}

	scope := bookScope(id)
	total := book.ChapterCount()

	run := s.runner.StartBook(scope, client, book, func(chapter, total int, status string) {
		percent := float64(0)
		if total > 0 {
			percent = float64(chapter) / float64(total) * 100
		}
		s.wsHub.BroadcastMessage(MessageTypeTranslationProgress, ProgressMessage{
			Scope:           scope,
			BookID:          id,
			Chapter:         chapter,
			Done:            chapter,
			Total:           total,
			ProgressPercent: percent,
			Status:          status,
		})
	})

	outputName := sanitizeFileName(book.Title()) + "_bilingual.epub"
	go s.watchRun(run, id, outputName)

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":         run.ID,
		"scope":          scope,
		"total_chapters": total,
		"output":         outputName,
	})
}

// watchRun waits a run out and broadcasts its terminal state. Book runs
// additionally get their output written to the download directory.
// Cancellation is intentional and produces no error broadcast.
func (s *Server) watchRun(run *translate.Run, bookID, outputName string) {
	<-run.Done()

	if err := run.Err(); err != nil {
		if errors.Is(err, translate.ErrCancelled) {
			s.logger.Debugf("Run %s cancelled", run.ID)
			return
		}
		s.logger.Errorf("Run %s failed: %v", run.ID, err)
		s.wsHub.BroadcastLog("error", "Translation run failed: "+err.Error(), "translation")
		s.wsHub.BroadcastMessage(MessageTypeTranslationError, CompletionMessage{
			Scope:  run.Scope,
			BookID: bookID,
			Error:  err.Error(),
		})
		return
	}

	msg := CompletionMessage{Scope: run.Scope, BookID: bookID}

	if outputName != "" {
		s.cfgMu.RLock()
		outputDir := s.cfg.App.OutputDir
		s.cfgMu.RUnlock()

		err := os.MkdirAll(outputDir, 0755)
		if err == nil {
			err = os.WriteFile(filepath.Join(outputDir, outputName), run.Output(), 0644)
		}
		if err != nil {
			s.logger.Errorf("Failed to write bilingual EPUB: %v", err)
			s.wsHub.BroadcastMessage(MessageTypeTranslationError, CompletionMessage{
				Scope:  run.Scope,
				BookID: bookID,
				Error:  "Failed to write output file",
			})
			return
		}
		msg.DownloadURL = "/download/" + outputName
	}

	s.wsHub.BroadcastLog("info", "Translation run completed for "+run.Scope, "translation")
	s.wsHub.BroadcastMessage(MessageTypeTranslationComplete, msg)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	scope := strings.TrimPrefix(c.Param("scope"), "/")
	cancelled := s.runner.Cancel(scope)
	c.JSON(http.StatusOK, gin.H{"scope": scope, "cancelled": cancelled})
}

func (s *Server) handleDownload(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	if !strings.HasSuffix(name, ".epub") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	}

	s.cfgMu.RLock()
	outputDir := s.cfg.App.OutputDir
	s.cfgMu.RUnlock()

	path := filepath.Join(outputDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.FileAttachment(path, name)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats, err := s.cache.Stats()
	if err != nil {
		s.logger.Errorf("Failed to read cache stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read cache stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCacheClear(c *gin.Context) {
	removed, err := s.cache.Clear()
	if err != nil {
		s.logger.Errorf("Failed to clear cache: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) settingsView() gin.H {
	provider := func(settings config.EngineSettings) gin.H {
		return gin.H{
			"endpoint":    settings.Endpoint,
			"model":       settings.Model,
			"api_key_set": settings.APIKey != "",
		}
	}
	return gin.H{
		"active":            s.cfg.Engine.Active,
		"doubao":            provider(s.cfg.Engine.Doubao),
		"siliconflow":       provider(s.cfg.Engine.SiliconFlow),
		"source_lang":       s.cfg.Engine.SourceLang,
		"target_lang":       s.cfg.Engine.TargetLang,
		"translation_style": s.cfg.Engine.TranslationStyle,
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	c.JSON(http.StatusOK, s.settingsView())
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req config.Engine
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Active != "" && req.Active != "doubao" && req.Active != "siliconflow" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown engine: " + req.Active})
		return
	}

	s.cfgMu.Lock()
	mergeEngine(&s.cfg.Engine, req)
	if err := s.cfg.SaveToFile(s.cfgPath); err != nil {
		s.logger.Warnf("Failed to persist settings: %v", err)
	}
	view := s.settingsView()
	s.cfgMu.Unlock()

	c.JSON(http.StatusOK, view)
}

// mergeEngine applies the non-empty fields of an update onto the current
// settings, so clients can PUT a partial document.
func mergeEngine(dst *config.Engine, src config.Engine) {
	if src.Active != "" {
		dst.Active = src.Active
	}
	if src.SourceLang != "" {
		dst.SourceLang = src.SourceLang
	}
	if src.TargetLang != "" {
		dst.TargetLang = src.TargetLang
	}
	if src.TranslationStyle != "" {
		dst.TranslationStyle = src.TranslationStyle
	}
	mergeProvider(&dst.Doubao, src.Doubao)
	mergeProvider(&dst.SiliconFlow, src.SiliconFlow)
}

func mergeProvider(dst *config.EngineSettings, src config.EngineSettings) {
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "book"
	}
	return b.String()
}
