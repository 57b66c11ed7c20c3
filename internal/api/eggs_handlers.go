package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/validate"
)

// EggsStore defines the egg operations the handlers need
type EggsStore interface {
	Save(ctx context.Context, egg domain.Egg) (domain.Egg, error)
	FindByID(ctx context.Context, id int64) (domain.Egg, error)
	FindAll(ctx context.Context) ([]domain.Egg, error)
	DeleteByID(ctx context.Context, id int64) error
	FindVariables(ctx context.Context, eggID int64) ([]domain.EggVariable, error)
	SaveVariable(ctx context.Context, v domain.EggVariable) (domain.EggVariable, error)
}

// Eggs groups egg handlers for testability
type Eggs struct {
	store  EggsStore
	logger *zap.Logger
}

func NewEggs(store EggsStore, logger *zap.Logger) *Eggs {
	return &Eggs{store: store, logger: logger}
}

type EggVariableRequest struct {
	EnvVariable  string `json:"env_variable" validate:"required,max=191"`
	DefaultValue string `json:"default_value"`
}

type CreateEggRequest struct {
	Name        string               `json:"name" validate:"required,max=191"`
	Service     string               `json:"service" validate:"required"`
	DockerImage string               `json:"docker_image" validate:"required"`
	Startup     string               `json:"startup" validate:"required"`
	Variables   []EggVariableRequest `json:"variables" validate:"dive"`
}

type EggResponse struct {
	ID          int64             `json:"id"`
	UUID        string            `json:"uuid"`
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	DockerImage string            `json:"docker_image"`
	Startup     string            `json:"startup"`
	Variables   map[string]string `json:"variables,omitempty"`
}

func toEggResponse(egg domain.Egg, vars []domain.EggVariable) EggResponse {
	resp := EggResponse{
		ID:          egg.ID,
		UUID:        egg.UUID,
		Name:        egg.Name,
		Service:     egg.Service,
		DockerImage: egg.DockerImage,
		Startup:     egg.Startup,
	}
	if len(vars) > 0 {
		resp.Variables = make(map[string]string, len(vars))
		for _, v := range vars {
			resp.Variables[v.EnvVariable] = v.DefaultValue
		}
	}
	return resp
}

func (e *Eggs) ListEggsHandler(w http.ResponseWriter, r *http.Request) {
	eggs, err := e.store.FindAll(r.Context())
	if err != nil {
		writeError(w, e.logger, err)
		return
	}

	response := make([]EggResponse, len(eggs))
	for i, egg := range eggs {
		response[i] = toEggResponse(egg, nil)
	}
	writeJSON(w, e.logger, http.StatusOK, response)
}

// CreateEggHandler stores an egg and its declared variables. Variables are
// saved one by one; a failure part way leaves the egg with the ones saved.
func (e *Eggs) CreateEggHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateEggRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, e.logger, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, e.logger, err)
		return
	}

	egg, err := e.store.Save(r.Context(), domain.Egg{
		Name:        req.Name,
		Service:     req.Service,
		DockerImage: req.DockerImage,
		Startup:     req.Startup,
	})
	if err != nil {
		writeError(w, e.logger, err)
		return
	}

	vars := make([]domain.EggVariable, 0, len(req.Variables))
	for _, v := range req.Variables {
		saved, err := e.store.SaveVariable(r.Context(), domain.EggVariable{
			EggID:        egg.ID,
			EnvVariable:  v.EnvVariable,
			DefaultValue: v.DefaultValue,
		})
		if err != nil {
			writeError(w, e.logger, err)
			return
		}
		vars = append(vars, saved)
	}

	e.logger.Info("Egg created", zap.Int64("egg_id", egg.ID), zap.String("name", egg.Name))
	writeJSON(w, e.logger, http.StatusCreated, toEggResponse(egg, vars))
}

func (e *Eggs) GetEggHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, e.logger, err)
		return
	}

	egg, err := e.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, e.logger, err)
		return
	}
	vars, err := e.store.FindVariables(r.Context(), id)
	if err != nil {
		writeError(w, e.logger, err)
		return
	}
	writeJSON(w, e.logger, http.StatusOK, toEggResponse(egg, vars))
}

func (e *Eggs) DeleteEggHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, e.logger, err)
		return
	}

	if err := e.store.DeleteByID(r.Context(), id); err != nil {
		writeError(w, e.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
