// Package router serves the host API: search configuration and execution,
// stateless feature actions and the rendered layers searches select on.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/host"
	"github.com/mohammed-shakir/nearby-search/internal/rendered"
	"github.com/mohammed-shakir/nearby-search/internal/search"
)

const (
	maxRequestBytes = 1 << 20
	maxLayerBytes   = 32 << 20
)

// API holds the collaborators behind the host routes.
type API struct {
	Searches *search.Registry
	Actions  map[string]search.Action
	Layers   *rendered.Index
	Logger   *slog.Logger
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	r.Get("/searches", a.listSearches)
	r.Get("/searches/{id}", a.getSearch)
	r.Put("/searches/{id}/config", a.configureSearch)
	r.Post("/searches/{id}/execute", a.executeSearch)
	r.Post("/actions/{name}/execute", a.executeAction)
	r.Put("/layers/{id}/features", a.loadLayer)
	r.Get("/layers/{id}/selection", a.layerSelection)
}

// ConfigRequest is the body of PUT /searches/{id}/config. Omitted fields keep
// their current value.
type ConfigRequest struct {
	Target   *string  `json:"target"`
	Distance *float64 `json:"distance"`
	Unit     *string  `json:"unit"`
}

// ExecuteRequest is the body of an execute call: the data source the feature
// was picked from and the feature itself as GeoJSON.
type ExecuteRequest struct {
	Source  string          `json:"source"`
	Feature json.RawMessage `json:"feature"`
}

func (a *API) listSearches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"searches": a.Searches.Snapshots()})
}

func (a *API) getSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := a.search(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) configureSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := a.search(w, r)
	if !ok {
		return
	}
	var req ConfigRequest
	if err := decodeBody(r, maxRequestBytes, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, ok := c.Configure(r.Context(), search.EditorFunc(req.edit))
	if !ok {
		http.Error(w, "search config rejected", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// edit applies the request on top of the seed.
func (req ConfigRequest) edit(_ context.Context, seed model.SearchConfig, _ []host.DataSource) (model.SearchConfig, bool) {
	out := seed
	if req.Target != nil {
		out.TargetID = strings.TrimSpace(*req.Target)
	}
	if req.Distance != nil {
		out.Distance = *req.Distance
	}
	if req.Unit != nil {
		u, err := model.ParseLinearUnit(*req.Unit)
		if err != nil {
			return seed, false
		}
		out.Unit = u
	}
	return out, true
}

func (a *API) executeSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := a.search(w, r)
	if !ok {
		return
	}
	a.execute(w, r, c, http.StatusAccepted)
}

func (a *API) executeAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	act, ok := a.Actions[name]
	if !ok {
		http.Error(w, fmt.Sprintf("%v: %q", search.ErrUnknownAction, name), http.StatusNotFound)
		return
	}
	a.execute(w, r, act, http.StatusOK)
}

func (a *API) execute(w http.ResponseWriter, r *http.Request, act search.Action, okStatus int) {
	source, ref, err := ParseExecuteRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !act.CanExecute(source, ref) {
		http.Error(w, search.ErrNotExecutable.Error(), http.StatusConflict)
		return
	}
	token, err := act.Execute(r.Context(), source, ref)
	switch {
	case errors.Is(err, search.ErrNotExecutable):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, search.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		a.Logger.ErrorContext(r.Context(), "execute failed", "action", act.Name(), "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, okStatus, map[string]any{"token": token})
}

func (a *API) loadLayer(w http.ResponseWriter, r *http.Request) {
	layer, ok := a.layer(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLayerBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxLayerBytes {
		http.Error(w, "feature collection too large", http.StatusRequestEntityTooLarge)
		return
	}
	n, err := layer.LoadGeoJSON(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layer": layer.ID(), "features": n})
}

func (a *API) layerSelection(w http.ResponseWriter, r *http.Request) {
	layer, ok := a.layer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layer": layer.ID(), "selected": layer.SelectedIDs()})
}

func (a *API) search(w http.ResponseWriter, r *http.Request) (*search.Controller, bool) {
	id := chi.URLParam(r, "id")
	c, ok := a.Searches.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("%v: %q", search.ErrUnknownSearch, id), http.StatusNotFound)
	}
	return c, ok
}

func (a *API) layer(w http.ResponseWriter, r *http.Request) (*rendered.Layer, bool) {
	id := chi.URLParam(r, "id")
	l, ok := a.Layers.Layer(id)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown layer %q", id), http.StatusNotFound)
	}
	return l, ok
}

// ParseExecuteRequest decodes the body of an execute call into the source
// data source id and the reference feature.
func ParseExecuteRequest(r *http.Request) (string, model.ReferenceFeature, error) {
	var req ExecuteRequest
	if err := decodeBody(r, maxRequestBytes, &req); err != nil {
		return "", model.ReferenceFeature{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return "", model.ReferenceFeature{}, errors.New("missing required field: source")
	}
	if len(req.Feature) == 0 {
		return "", model.ReferenceFeature{}, errors.New("missing required field: feature")
	}
	f, err := geojson.UnmarshalFeature(req.Feature)
	if err != nil {
		return "", model.ReferenceFeature{}, fmt.Errorf("invalid feature: %w", err)
	}
	ref := model.ReferenceFeature{Geometry: f.Geometry, Attributes: map[string]any(f.Properties)}
	if ref.Attributes == nil {
		ref.Attributes = map[string]any{}
	}
	return source, ref, nil
}

func decodeBody(r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
