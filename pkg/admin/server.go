// Package admin exposes the administrative refresh trigger over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"deck-updater/pkg/db"
	"deck-updater/pkg/domain"
	"deck-updater/pkg/scheduler"
	"deck-updater/pkg/updater"
	"deck-updater/pkg/wiki"
)

// Runner is the refresh work the admin API can trigger.
type Runner interface {
	RefreshArticle(ctx context.Context, title string, dryRun bool) (*updater.Result, error)
	RunWithID(ctx context.Context, runID string, pageSize int) (*scheduler.RunResult, error)
}

// ArticleReader serves articles to readers, counting each read.
type ArticleReader interface {
	IncrementReads(ctx context.Context, title string) (*domain.Article, error)
}

// Server serves the admin routes. Full runs execute in the background, one
// at a time, under the server's base context.
type Server struct {
	router   *mux.Router
	runner   Runner
	articles ArticleReader
	base     context.Context

	mu      sync.Mutex
	running string
	last    *scheduler.RunResult
	wg      sync.WaitGroup
}

// NewServer creates the admin server. Cancelling base stops background runs
// after their current page. articles may be nil, which disables the read
// route.
func NewServer(base context.Context, runner Runner, articles ArticleReader) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		runner:   runner,
		articles: articles,
		base:     base,
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/refresh/{title:.+}", s.handleRefreshArticle).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/refresh", s.handleRefreshAll).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/runs/last", s.handleLastRun).Methods(http.MethodGet)
	if articles != nil {
		s.router.HandleFunc("/articles/{title:.+}", s.handleReadArticle).Methods(http.MethodGet)
	}

	s.router.Use(logRequests)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until no background run is active.
func (s *Server) Wait() {
	s.wg.Wait()
}

type failureResponse struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
	Error    string `json:"error"`
}

type refreshResponse struct {
	Article       domain.Article    `json:"article"`
	Slides        []domain.Slide    `json:"slides"`
	AddedBatch    []domain.Entry    `json:"addedBatch"`
	RemovedBatch  []domain.Entry    `json:"removedBatch"`
	AddedSlides   []domain.Slide    `json:"addedSlides"`
	RemovedSlides []domain.Slide    `json:"removedSlides"`
	Failures      []failureResponse `json:"failures"`
	Unchanged     bool              `json:"unchanged"`
	Persisted     bool              `json:"persisted"`
}

func (s *Server) handleRefreshArticle(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))

	res, err := s.runner.RefreshArticle(r.Context(), title, dryRun)
	if err != nil {
		log.Printf("Admin: refresh %q failed: %v", title, err)
		writeError(w, statusFor(err), err)
		return
	}

	resp := refreshResponse{
		Article:       res.Article,
		Slides:        res.Article.Slides,
		AddedBatch:    nonNil(res.AddedBatch),
		RemovedBatch:  nonNil(res.RemovedBatch),
		AddedSlides:   nonNil(res.AddedSlides),
		RemovedSlides: nonNil(res.RemovedSlides),
		Failures:      make([]failureResponse, 0, len(res.Failures)),
		Unchanged:     res.Unchanged,
		Persisted:     !dryRun && !res.Unchanged,
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, failureResponse{Text: f.Text, Position: f.Position, Error: f.Err.Error()})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if v := r.URL.Query().Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("pageSize must be a positive integer"))
			return
		}
		pageSize = n
	}

	s.mu.Lock()
	if s.running != "" {
		running := s.running
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress", "runId": running})
		return
	}
	runID := uuid.NewString()
	s.running = runID
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		start := time.Now()
		run, err := s.runner.RunWithID(s.base, runID, pageSize)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.running = ""
		if err != nil {
			log.Printf("Admin: run %s failed: %v", runID, err)
			return
		}
		s.last = run
		log.Printf("Admin: run %s finished in %s", run.RunID, time.Since(start).Round(time.Second))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "runId": runID})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		writeError(w, http.StatusNotFound, errors.New("no run has finished yet"))
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleReadArticle(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]

	article, err := s.articles.IncrementReads(r.Context(), title)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	if errors.Is(err, db.ErrArticleNotFound) || errors.Is(err, wiki.ErrArticleNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Admin: encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("Admin: %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
