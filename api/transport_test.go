package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/flclient/api"
	"github.com/absmach/flclient/client"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusStub struct {
	status client.Status
}

func (s statusStub) Status() client.Status {
	return s.status
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func TestStatus(t *testing.T) {
	loss := 0.5
	svc := statusStub{status: client.Status{
		CID:             6,
		State:           client.Initialized.String(),
		Device:          "cpu",
		NumExamples:     fl.ExampleCounts{Trainset: 15, Valset: 4},
		FitRounds:       2,
		LastServerRound: 2,
		LastTrainLoss:   &loss,
	}}
	srv := httptest.NewServer(api.MakeHandler(svc, "v0.1.0"))
	defer srv.Close()

	code, body := get(t, srv.URL+"/status")
	assert.Equal(t, http.StatusOK, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Initialized", got["state"])
	assert.Equal(t, 6.0, got["cid"])
	assert.Equal(t, 0.5, got["last_train_loss"])
	assert.NotContains(t, got, "last_eval_loss")

	code, body = get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"pass","version":"v0.1.0","state":"Initialized"}`, string(body))

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestHealthAfterTermination(t *testing.T) {
	srv := httptest.NewServer(api.MakeHandler(statusStub{status: client.Status{State: client.Terminated.String()}}, ""))
	defer srv.Close()

	code, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"fail","state":"Terminated"}`, string(body))
}
