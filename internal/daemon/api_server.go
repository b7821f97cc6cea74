package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services"
)

type apiServer struct {
	bind     string
	imageDir string
	logger   *slog.Logger
	daemon   *Daemon

	listener net.Listener
	server   *http.Server
}

// frameResponse is the payload for a served frame.
type frameResponse struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"imageUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// checkResponse mirrors the full stored answer plus the comparison outcome.
type checkResponse struct {
	ID          string    `json:"id"`
	Season      int       `json:"season"`
	Episode     int       `json:"episode"`
	Name        string    `json:"name"`
	SeekTimeSec float64   `json:"seekTimeSec"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Correct     bool      `json:"correct"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:     bind,
		imageDir: cfg.Paths.ImageOutputDir,
		logger:   logger,
		daemon:   d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/frame", srv.handleFrame)
	mux.HandleFunc("/api/frame/", srv.handleFrameSub)
	mux.HandleFunc("/api/run/", srv.handleRun)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/images/", srv.handleImage)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleFrame serves one pregenerated frame. A runId query assigns the frame
// to that run's verification state.
func (s *apiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	started := time.Now()
	record, err := s.daemon.services.Pool.Serve(r.Context())
	if err != nil {
		s.writeError(w, services.HTTPStatus(err), err.Error())
		return
	}

	if runID := strings.TrimSpace(r.URL.Query().Get("runId")); runID != "" {
		if err := s.daemon.services.Tracker.Assign(r.Context(), runID, record.ID, time.Since(started)); err != nil {
			s.log().Error("assign frame to run failed",
				logging.String(logging.FieldRunID, runID),
				logging.String(logging.FieldFrameID, record.ID),
				logging.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, frameResponse{
		ID:        record.ID,
		ImageURL:  "/images/" + filepath.Base(record.Path),
		ExpiresAt: record.ExpiresAt,
	})
}

// handleFrameSub dispatches /api/frame/check/{id} and /api/frame/{id}/loaded.
func (s *apiServer) handleFrameSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/frame/")
	switch {
	case strings.HasPrefix(rest, "check/"):
		s.handleCheck(w, r, strings.TrimPrefix(rest, "check/"))
	case strings.HasSuffix(rest, "/loaded"):
		s.handleLoaded(w, r, strings.TrimSuffix(rest, "/loaded"))
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleLoaded(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, "missing id param")
		return
	}

	if runID := strings.TrimSpace(r.URL.Query().Get("runId")); runID != "" {
		if err := s.daemon.services.Tracker.MarkLoaded(r.Context(), runID, id); err != nil {
			s.writeError(w, services.HTTPStatus(err), err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheck resolves a guess against the stored answer. The answer and its
// frame are cleaned up in the background; the response never waits on it.
func (s *apiServer) handleCheck(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, "missing id param")
		return
	}

	query := r.URL.Query()
	season := queryInt(query.Get("season"))
	episode := queryInt(query.Get("episode"))

	answer, found, err := s.daemon.services.Answers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("answer not found for id %q", id))
		return
	}

	go s.cleanupAnswer(id)

	correct := answer.Season == season && answer.Episode == episode

	if runID := strings.TrimSpace(query.Get("runId")); runID != "" {
		err := s.daemon.services.Tracker.RecordCheck(r.Context(), runID, id,
			runverify.Guess{Season: season, Episode: episode},
			runverify.Guess{Season: answer.Season, Episode: answer.Episode},
			answer.SeekTimeSec)
		if err != nil {
			s.log().Error("run tracking failed",
				logging.String(logging.FieldRunID, runID),
				logging.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, checkResponse{
		ID:          answer.ID,
		Season:      answer.Season,
		Episode:     answer.Episode,
		Name:        answer.Name,
		SeekTimeSec: answer.SeekTimeSec,
		CreatedAt:   answer.CreatedAt,
		ExpiresAt:   answer.ExpiresAt,
		Correct:     correct,
	})
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/api/run/")
	if runID == "" || strings.Contains(runID, "/") {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	state, found, err := s.daemon.services.Tracker.Get(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/images/")
	if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.imageDir, name))
}

// cleanupAnswer removes a checked answer, its frame record, and the image
// file. Runs detached from the request; failures are logged only.
func (s *apiServer) cleanupAnswer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.daemon.services.Answers.Remove(ctx, id); err != nil {
		s.log().Error("failed to clean up stored answer", logging.String(logging.FieldFrameID, id), logging.Error(err))
		return
	}

	record, found, err := s.daemon.services.Frames.Get(ctx, id)
	if err != nil {
		s.log().Error("failed to load frame for cleanup", logging.String(logging.FieldFrameID, id), logging.Error(err))
		return
	}
	if found {
		if _, err := s.daemon.services.Frames.Remove(ctx, id); err != nil {
			s.log().Error("failed to clean up frame record", logging.String(logging.FieldFrameID, id), logging.Error(err))
		}
		if err := removeFile(record.Path); err != nil {
			s.log().Error("failed to clean up image file", logging.String("path", record.Path), logging.Error(err))
		}
	}
	s.daemon.services.Pool.Forget(id)
	s.log().Info("cleaned up stored answer", logging.String(logging.FieldFrameID, id))
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// queryInt mirrors lenient query parsing: absent or malformed values become
// -1, which never matches a real season or episode.
func queryInt(raw string) int {
	if raw == "" {
		return -1
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return value
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
