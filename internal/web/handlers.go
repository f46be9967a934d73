package web

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/query"
	"github.com/khg9859/Eternal/internal/store"
)

// metadataView is the JSON form of core.Metadata; nulls stay null.
type metadataView struct {
	Carrier   *string `json:"carrier"`
	Gender    *string `json:"gender"`
	BirthYear *int32  `json:"birth_year"`
	Age       *int32  `json:"age"`
	Region    *string `json:"region"`
}

type answerView struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

type respondentView struct {
	ID         string       `json:"id"`
	HasProfile bool         `json:"has_profile"`
	Metadata   metadataView `json:"metadata"`
	Answers    []answerView `json:"answers"`
}

type respondentList struct {
	IDs     []string       `json:"ids"`
	Count   int            `json:"count"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Filters []query.Filter `json:"filters"`
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func intPtr(i pgtype.Int4) *int32 {
	if !i.Valid {
		return nil
	}
	return &i.Int32
}

func newRespondentView(d store.RespondentDetail) respondentView {
	v := respondentView{
		ID:         d.ID,
		HasProfile: d.HasProfile,
		Metadata: metadataView{
			Carrier:   textPtr(d.Metadata.Carrier),
			Gender:    textPtr(d.Metadata.Gender),
			BirthYear: intPtr(d.Metadata.BirthYear),
			Age:       intPtr(d.Metadata.Age),
			Region:    textPtr(d.Metadata.Region),
		},
		Answers: make([]answerView, 0, len(d.Answers)),
	}
	for _, a := range d.Answers {
		v.Answers = append(v.Answers, answerView{QuestionID: a.QuestionID, Value: a.Value})
	}
	return v
}

// parseIntParam parses a non-negative integer query parameter with a default
// value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if st.Sources == nil {
		st.Sources = []store.SourceStat{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := store.ClampLimit(parseIntParam(r, "limit", store.DefaultListLimit))
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleFindRespondents lists respondent ids matching repeated
// filter=field:op:value parameters.
func (s *Server) handleFindRespondents(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()["filter"]
	filters := make([]query.Filter, 0, len(params))
	for _, p := range params {
		f, err := query.ParseFilter(p)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		filters = append(filters, f)
	}

	limit := store.ClampLimit(parseIntParam(r, "limit", store.DefaultListLimit))
	offset := parseIntParam(r, "offset", 0)

	ids, err := s.store.FindRespondents(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, respondentList{
		IDs:     ids,
		Count:   len(ids),
		Limit:   limit,
		Offset:  offset,
		Filters: filters,
	})
}

// pathParam returns a decoded URL parameter. chi matches on the raw path
// when the request path carries escapes that differ from the default
// encoding, and then returns the parameter still escaped.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func (s *Server) handleRespondent(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Respondent(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRespondentView(d))
}

func (s *Server) handleCodebook(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Codebook(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entry.Choices == nil {
		entry.Choices = []core.Choice{}
	}
	writeJSON(w, http.StatusOK, entry)
}
