package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/storyline/pkg/models"
)

// Handler configuration constants
const (
	// DefaultListLimit is the default number of clusters or entities returned.
	DefaultListLimit = 20

	// MaxListLimit caps the limit query parameter.
	MaxListLimit = 200

	// DefaultTrendWindow is the default window for cluster and entity listings.
	DefaultTrendWindow = 24 * time.Hour
)

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode JSON response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// listParams parses ?limit= and ?window= (a Go duration such as "6h").
func listParams(r *http.Request) (limit int, window time.Duration, err error) {
	limit, window = DefaultListLimit, DefaultTrendWindow
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(n, MaxListLimit)
	}
	if v := r.URL.Query().Get("window"); v != "" {
		d, parseErr := time.ParseDuration(v)
		if parseErr != nil || d <= 0 {
			return 0, 0, errors.New("window must be a positive duration")
		}
		window = d
	}
	return limit, window, nil
}

// handleHealth reports store health; 503 when the store is unreachable.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
	}
	status := http.StatusOK
	if s.deps.Health != nil {
		info := s.deps.Health.HealthCheck(r.Context())
		body["database"] = info
		if info.Status == "unhealthy" {
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, status, body)
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Service) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	last := s.Stats().LastRun
	if last == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no run yet"))
		return
	}
	s.writeJSON(w, http.StatusOK, last)
}

// handleTriggerRun runs the pipeline now, joining a run already in flight.
// If the client gives up first the run continues and 202 is returned.
func (s *Service) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	stats, shared, err := s.TriggerRun(r.Context())
	switch {
	case errors.Is(err, ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil && stats == nil && r.Context().Err() != nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
		return
	}

	w.Header().Set("X-Run-Shared", strconv.FormatBool(shared))
	if err != nil {
		status := http.StatusInternalServerError
		if stats == nil {
			s.writeError(w, status, err)
			return
		}
		s.writeJSON(w, status, stats)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// ArticleSummary is the public view of a cluster member.
type ArticleSummary struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	ImageURL  string `json:"image_url"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
	ID        int64  `json:"id"`
}

// ClusterView is a ranked cluster with its articles.
type ClusterView struct {
	*models.Cluster
	Articles []ArticleSummary `json:"articles"`
}

func (s *Service) handleClusters(w http.ResponseWriter, r *http.Request) {
	limit, window, err := listParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()

	clusters, err := s.deps.Clusters.TopClusters(ctx, time.Now().Add(-window), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]ClusterView, 0, len(clusters))
	for _, c := range clusters {
		ids, err := s.deps.Clusters.ClusterArticleIDs(ctx, c.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		articles, err := s.deps.Articles.GetArticlesByIDs(ctx, ids)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		view := ClusterView{Cluster: c, Articles: make([]ArticleSummary, len(articles))}
		for i, a := range articles {
			view.Articles[i] = ArticleSummary{
				ID:        a.ID,
				Title:     a.Title,
				URL:       a.URL,
				ImageURL:  a.ImageURL,
				Source:    a.Source,
				CreatedAt: a.CreatedAt,
			}
		}
		views = append(views, view)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Service) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, window, err := listParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	freqs, err := s.deps.Trends.EntityFrequencies(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, freqs)
}
