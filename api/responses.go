package api

import (
	"net/http"

	"github.com/absmach/flclient/client"
)

type statusRes struct {
	client.Status
}

func (res statusRes) Code() int {
	return http.StatusOK
}

type healthRes struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	State   string `json:"state"`
}

func (res healthRes) Code() int {
	if res.Status != "pass" {
		return http.StatusServiceUnavailable
	}

	return http.StatusOK
}
