// Package server hosts the evaluation form: evaluators open their
// signed link, score the assigned exams, and submit once.
package server

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peergrade/peergrade/pkg/config"
	"github.com/peergrade/peergrade/pkg/data"
	"github.com/peergrade/peergrade/pkg/token"
	"github.com/peergrade/peergrade/pkg/vancouver"
)

const (
	shutdownWaitSeconds = 5
	requestTimeout      = 60 * time.Second
	maxSubmitBodyBytes  = 1 << 20
)

//go:embed templates/*
var templateFS embed.FS

// Server serves the review form and the submission API.
type Server struct {
	db     *sql.DB
	issuer *token.Issuer
	cfg    *config.Config
	tmpl   *template.Template
}

// New builds a Server over an initialized database.
func New(db *sql.DB, issuer *token.Issuer, cfg *config.Config) (*Server, error) {
	if db == nil {
		return nil, errors.New("nil database")
	}
	if issuer == nil {
		return nil, errors.New("nil token issuer")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Server{db: db, issuer: issuer, cfg: cfg, tmpl: tmpl}, nil
}

// Router wires the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/evaluate", s.handleEvaluate)
	r.Post("/api/submit", s.handleSubmit)
	r.Get("/api/status", s.handleStatus)

	return r
}

// Start runs the server until SIGINT/SIGTERM, then drains in-flight
// requests.
func (s *Server) Start(port int) error {
	address := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         address,
		Handler:      s.Router(),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("error starting server", "error", err)
		}
	}()

	slog.Info("collection server started", "address", address)

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWaitSeconds*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type evaluatePage struct {
	Course    string
	Token     string
	Targets   []string
	Questions []*data.Question
	ScaleMin  float64
	ScaleMax  float64
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	signed := r.URL.Query().Get("token")
	if signed == "" {
		s.renderMessage(w, http.StatusBadRequest, "This page needs the review link from your invitation email.")
		return
	}

	claims, _, status, msg := s.resolveToken(signed)
	if msg != "" {
		s.renderMessage(w, status, msg)
		return
	}

	assignments, err := data.GetAssignmentsFor(s.db, claims.Evaluator)
	if err != nil {
		slog.Error("loading assignments", "evaluator", claims.Evaluator, "error", err)
		s.renderMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	if len(assignments) == 0 {
		s.renderMessage(w, http.StatusNotFound, "No exams are assigned to you in this round.")
		return
	}

	questions, err := data.GetQuestions(s.db)
	if err != nil || len(questions) == 0 {
		slog.Error("loading questions", "error", err)
		s.renderMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	page := &evaluatePage{
		Course:    s.cfg.Course.Name,
		Token:     signed,
		Questions: questions,
		ScaleMin:  s.cfg.Scale.Min,
		ScaleMax:  s.cfg.Scale.Max,
	}
	for _, a := range assignments {
		page.Targets = append(page.Targets, a.Target)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "evaluate.html", page); err != nil {
		slog.Error("rendering evaluate page", "error", err)
	}
}

type scorePayload struct {
	Target   string  `json:"target"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
	Comment  string  `json:"comment,omitempty"`
}

type submitRequest struct {
	Token  string         `json:"token"`
	Scores []scorePayload `json:"scores"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, _, status, msg := s.resolveToken(req.Token)
	if msg != "" {
		writeError(w, status, msg)
		return
	}

	evals, err := s.validateScores(claims.Evaluator, req.Scores)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := data.SaveSubmission(s.db, claims.ID, evals); err != nil {
		switch {
		case errors.Is(err, data.ErrTokenUsed):
			writeError(w, http.StatusConflict, "this review was already submitted")
		case errors.Is(err, data.ErrTokenExpired):
			writeError(w, http.StatusGone, "the review deadline has passed")
		case errors.Is(err, data.ErrTokenUnknown):
			writeError(w, http.StatusForbidden, "unknown review link")
		case errors.Is(err, data.ErrDuplicateEvaluation):
			writeError(w, http.StatusConflict, "these scores were already recorded")
		default:
			slog.Error("saving submission", "evaluator", claims.Evaluator, "error", err)
			writeError(w, http.StatusInternalServerError, "saving submission failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "submitted", "scores": len(evals)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	p, err := data.GetProgress(s.db)
	if err != nil {
		slog.Error("loading progress", "error", err)
		writeError(w, http.StatusInternalServerError, "loading progress failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// resolveToken verifies the JWT and its database row. A non-empty msg
// means the caller should fail with the given status.
func (s *Server) resolveToken(signed string) (claims *token.Claims, rec *data.TokenRecord, status int, msg string) {
	claims, err := s.issuer.Parse(signed)
	if err != nil {
		return nil, nil, http.StatusForbidden, "this review link is invalid or expired"
	}

	rec, err = data.GetToken(s.db, claims.ID)
	if err != nil {
		slog.Error("loading token", "error", err)
		return nil, nil, http.StatusInternalServerError, "something went wrong, please try again later"
	}
	if rec == nil || rec.Evaluator != claims.Evaluator {
		return nil, nil, http.StatusForbidden, "this review link is no longer active"
	}
	if rec.Used() {
		return nil, nil, http.StatusConflict, "this review was already submitted"
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, nil, http.StatusGone, "the review deadline has passed"
	}
	return claims, rec, http.StatusOK, ""
}

// validateScores checks the submission against the evaluator's
// assignment: every assigned (target, question) cell present exactly
// once, every score on the scale.
func (s *Server) validateScores(evaluator string, scores []scorePayload) ([]vancouver.Evaluation, error) {
	assignments, err := data.GetAssignmentsFor(s.db, evaluator)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}
	questions, err := data.GetQuestions(s.db)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}

	assigned := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		assigned[a.Target] = true
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}

	expected := len(assignments) * len(questions)
	if len(scores) != expected {
		return nil, fmt.Errorf("expected %d scores, got %d", expected, len(scores))
	}

	seen := make(map[string]bool, len(scores))
	evals := make([]vancouver.Evaluation, 0, len(scores))
	for _, sc := range scores {
		if !assigned[sc.Target] {
			return nil, fmt.Errorf("exam %s is not assigned to you", sc.Target)
		}
		if !known[sc.Question] {
			return nil, fmt.Errorf("unknown question %s", sc.Question)
		}
		if !s.cfg.Scale.Contains(sc.Score) {
			return nil, fmt.Errorf("score %.2f for %s/%s is outside the %g-%g scale",
				sc.Score, sc.Target, sc.Question, s.cfg.Scale.Min, s.cfg.Scale.Max)
		}
		key := sc.Target + "\x00" + sc.Question
		if seen[key] {
			return nil, fmt.Errorf("duplicate score for %s/%s", sc.Target, sc.Question)
		}
		seen[key] = true
		evals = append(evals, vancouver.Evaluation{
			Evaluator: evaluator,
			Target:    sc.Target,
			Question:  sc.Question,
			Score:     sc.Score,
			Comment:   sc.Comment,
		})
	}
	return evals, nil
}

type messagePage struct {
	Course  string
	Message string
	IsError bool
}

func (s *Server) renderMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := &messagePage{Course: s.cfg.Course.Name, Message: msg, IsError: status >= 400}
	if err := s.tmpl.ExecuteTemplate(w, "message.html", page); err != nil {
		slog.Error("rendering message page", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
