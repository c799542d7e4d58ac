package api

import (
	"net/http"

	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/pkg/api"
)

var (
	_ api.Response = (*runResponse)(nil)
	_ api.Response = (*listRunsResponse)(nil)
	_ api.Response = (*roundsResponse)(nil)
	_ api.Response = (*clustersResponse)(nil)
)

type runResponse struct {
	experiment.Run
	created bool
}

func (r runResponse) Code() int {
	if r.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (r runResponse) Headers() map[string]string {
	if r.created {
		return map[string]string{
			"Location": "/experiments/" + r.ID,
		}
	}

	return map[string]string{}
}

func (r runResponse) Empty() bool {
	return false
}

type listRunsResponse struct {
	experiment.RunPage
	created bool
}

func (l listRunsResponse) Code() int {
	if l.created {
		return http.StatusCreated
	}

	return http.StatusOK
}

func (l listRunsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRunsResponse) Empty() bool {
	return false
}

type roundsResponse struct {
	experiment.RoundPage
}

func (r roundsResponse) Code() int {
	return http.StatusOK
}

func (r roundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundsResponse) Empty() bool {
	return false
}

type clustersResponse struct {
	RunID    string              `json:"run_id"`
	Clusters map[string][]string `json:"clusters"`
}

func (c clustersResponse) Code() int {
	return http.StatusOK
}

func (c clustersResponse) Headers() map[string]string {
	return map[string]string{}
}

func (c clustersResponse) Empty() bool {
	return false
}
