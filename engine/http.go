package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// Registry holds the engines served by MakeEndpoints.
type Registry struct {
	mu      *sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{
		mu:      new(sync.RWMutex),
		engines: make(map[string]*Engine),
	}
}

func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[e.Name()]; ok {
		return errors.New(fmt.Sprintf(`stage [%s] already registered`, e.Name()))
	}

	r.engines[e.Name()] = e
	return nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]string, 0, len(r.engines))
	for name := range r.engines {
		list = append(list, name)
	}
	sort.Strings(list)

	return list
}

func (r *Registry) Engine(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	if !ok {
		return nil, errors.New(fmt.Sprintf(`stage [%s] does not exist`, name))
	}

	return e, nil
}

type Err struct {
	Err string `json:"error"`
}

type handler struct {
	logger   log.Logger
	registry *Registry
}

func (h *handler) encodeError(w http.ResponseWriter, status int, e error) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Err{Err: e.Error()}); err != nil {
		h.logger.Error(err)
	}
}

func (h *handler) stage(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	name, ok := mux.Vars(r)[`stage`]
	if !ok {
		h.logger.Error(`unknown route parameter`)
		h.encodeError(w, http.StatusBadRequest, errors.New(`stage name missing`))
		return nil, false
	}

	e, err := h.registry.Engine(name)
	if err != nil {
		h.encodeError(w, http.StatusNotFound, err)
		return nil, false
	}

	return e, true
}

// Router serves GET /stages, GET /stages/{stage} and GET /stages/{stage}/graph.
func Router(registry *Registry, logger log.Logger) http.Handler {
	r := mux.NewRouter()
	h := &handler{
		logger:   logger,
		registry: registry,
	}

	r.HandleFunc(`/stages`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(writer).Encode(registry.List()); err != nil {
			h.logger.Error(err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc(`/stages/{stage}`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		e, ok := h.stage(writer, request)
		if !ok {
			return
		}

		if err := json.NewEncoder(writer).Encode(e.Stats()); err != nil {
			h.logger.Error(err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc(`/stages/{stage}/graph`, func(writer http.ResponseWriter, request *http.Request) {
		e, ok := h.stage(writer, request)
		if !ok {
			return
		}

		dot, err := e.Graph()
		if err != nil {
			h.encodeError(writer, http.StatusInternalServerError, err)
			return
		}

		writer.Header().Set("Content-Type", "text/vnd.graphviz")
		if _, err := writer.Write([]byte(dot)); err != nil {
			h.logger.Error(err)
		}
	}).Methods(http.MethodGet)

	return handlers.CORS()(r)
}

// MakeEndpoints serves Router on host in the background.
func MakeEndpoints(host string, registry *Registry, logger log.Logger) *http.Server {
	srv := &http.Server{
		Addr:    host,
		Handler: Router(registry, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf(`cannot start web server : %+v`, err))
		}
	}()

	logger.Info(fmt.Sprintf(`http server started on %s`, host))

	return srv
}
