package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/pkg/api"
	pkgerrors "github.com/max-27/mlmi-federated-learning/pkg/errors"
)

// createRunEndpoint registers runs. A preset spans its whole hyperparameter
// grid, so one request may create several runs.
func createRunEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(createRunReq)
		if !ok {
			return listRunsResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRunsResponse{}, errors.Join(api.ErrValidation, err)
		}

		var configs []experiment.Config
		switch {
		case req.Config != nil:
			configs = []experiment.Config{*req.Config}
		default:
			preset, err := experiment.GetPreset(req.Preset)
			if err != nil {
				return listRunsResponse{}, errors.Join(api.ErrValidation, err)
			}
			configs = preset.Expand()
		}

		page := experiment.RunPage{Limit: uint64(len(configs))}
		for _, cfg := range configs {
			r, err := svc.CreateRun(ctx, cfg)
			if err != nil {
				return listRunsResponse{}, err
			}
			page.Runs = append(page.Runs, r)
			page.Total++
		}

		return listRunsResponse{RunPage: page, created: true}, nil
	}
}

func getRunEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(api.ErrValidation, err)
		}

		r, err := svc.GetRun(ctx, req.id)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{Run: r}, nil
	}
}

func updateRunEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateRunReq)
		if !ok {
			return runResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(api.ErrValidation, err)
		}

		r, err := svc.UpdateRun(ctx, req.Run)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{Run: r}, nil
	}
}

func listRunsEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRunsResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRunsResponse{}, errors.Join(api.ErrValidation, err)
		}

		page, err := svc.ListRuns(ctx, req.offset, req.limit)
		if err != nil {
			return listRunsResponse{}, err
		}

		return listRunsResponse{RunPage: page}, nil
	}
}

func listRoundsEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return roundsResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundsResponse{}, errors.Join(api.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.id)
		if err != nil {
			return roundsResponse{}, err
		}

		return roundsResponse{RoundPage: page}, nil
	}
}

func getClustersEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return clustersResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return clustersResponse{}, errors.Join(api.ErrValidation, err)
		}

		clusters, err := svc.GetClusters(ctx, req.id)
		if err != nil {
			return clustersResponse{}, err
		}

		return clustersResponse{RunID: req.id, Clusters: clusters}, nil
	}
}

func startFederatedEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(api.ErrValidation, err)
		}

		r, err := svc.RunFederated(ctx, req.id)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{Run: r}, nil
	}
}

func startHierarchicalEndpoint(svc experiment.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(api.ErrValidation, err)
		}

		r, err := svc.RunHierarchical(ctx, req.id)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{Run: r}, nil
	}
}
