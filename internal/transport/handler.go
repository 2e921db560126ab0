package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/events"
	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/internal/template"
	"github.com/sanjabh11/consultflow/internal/workflow"
	"github.com/sanjabh11/consultflow/model"
)

const maxBodyBytes = 1 << 20

// api holds the collaborators the route handlers call into.
type api struct {
	engine    *workflow.Engine
	tracker   *progress.Tracker
	templates *template.Registry
	bus       *events.Bus
	logger    *zap.Logger
	origins   []string
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeRequestError(w, r, a.logger, err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewBadRequestError("request body too large")
		}
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// queryList collects a repeatable, optionally comma-separated parameter.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		out = append(out, splitList(v)...)
	}
	return out
}

func convertList[T ~string](vals []string) []T {
	if len(vals) == 0 {
		return nil
	}
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}

func actor(r *http.Request) string {
	return model.ActorFrom(r.Context())
}

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func workflowID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
