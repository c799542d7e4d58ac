package api

import (
	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/pkg/api"
)

type createRunReq struct {
	// Preset names a built-in configuration; Config overrides it field by
	// field when both are given.
	Preset string             `json:"preset,omitempty"`
	Config *experiment.Config `json:"config,omitempty"`
}

func (r *createRunReq) validate() error {
	if r.Preset == "" && r.Config == nil {
		return api.ErrValidation
	}

	return nil
}

type updateRunReq struct {
	experiment.Run `json:",inline"`
}

func (r *updateRunReq) validate() error {
	if r.ID == "" {
		return api.ErrMissingID
	}

	return nil
}

type entityReq struct {
	id string
}

func (r *entityReq) validate() error {
	if r.id == "" {
		return api.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (r *listEntityReq) validate() error {
	if r.limit > api.MaxLimitSize {
		return api.ErrValidation
	}

	return nil
}
