package task_pool

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
)

type Err struct {
	Err string `json:"error"`
}

// MakeEndpoints registers the pending inspection routes of pools on r.
//
//	GET /joins                   pool ids
//	GET /joins/{pool}            pending keys of every worker
//	GET /joins/{pool}/{worker}   pending keys of one worker
func MakeEndpoints(r *mux.Router, logger log.Logger, pools ...*Pool) {
	logger = logger.NewLog(log.Prefixed(`task-pool-http`))

	registry := make(map[string]*Pool, len(pools))
	ids := make([]string, 0, len(pools))
	for _, p := range pools {
		registry[p.ID()] = p
		ids = append(ids, p.ID())
	}

	r.HandleFunc(`/joins`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(writer).Encode(ids); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc(`/joins/{pool}`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")

		pool, ok := registry[mux.Vars(request)[`pool`]]
		if !ok {
			writeError(writer, logger, http.StatusNotFound, errors.New(`pool does not exist`))
			return
		}

		pending, err := pool.Pending()
		if err != nil {
			writeError(writer, logger, http.StatusServiceUnavailable, err)
			return
		}

		if err := json.NewEncoder(writer).Encode(pending); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc(`/joins/{pool}/{worker}`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		vars := mux.Vars(request)

		pool, ok := registry[vars[`pool`]]
		if !ok {
			writeError(writer, logger, http.StatusNotFound, errors.New(`pool does not exist`))
			return
		}

		worker, err := strconv.Atoi(vars[`worker`])
		if err != nil || worker < 0 || worker >= pool.Size() {
			writeError(writer, logger, http.StatusBadRequest,
				errors.New(fmt.Sprintf(`worker should be between 0 and %d`, pool.Size()-1)))
			return
		}

		pending, err := pool.Pending()
		if err != nil {
			writeError(writer, logger, http.StatusServiceUnavailable, err)
			return
		}

		if err := json.NewEncoder(writer).Encode(pending[worker]); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodGet)
}

func writeError(w http.ResponseWriter, logger log.Logger, status int, e error) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Err{Err: e.Error()}); err != nil {
		logger.Error(err)
	}
}
