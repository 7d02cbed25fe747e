// Package http serves the protocol handler by polling an HTTP coordinator
// for pending instructions and posting the replies back.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/absmach/flclient/client"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/absmach/flclient/pkg/metrics"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 30 * time.Second

	contentType     = "application/json"
	requestIDHeader = "X-Request-ID"
)

var errUnexpectedStatus = errors.New("unexpected response status")

type Config struct {
	CID          int
	PollInterval time.Duration
	Timeout      time.Duration
}

type Transport struct {
	cfg    Config
	codec  fl.Codec
	client *http.Client
	logger *slog.Logger
}

var _ client.Transport = (*Transport)(nil)

// New builds a transport. A nil httpClient is replaced by one that traces
// outgoing requests.
func New(cfg Config, codec fl.Codec, httpClient *http.Client, logger *slog.Logger) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Transport{
		cfg:    cfg,
		codec:  codec,
		client: httpClient,
		logger: logger,
	}
}

// pendingInstruction is empty when nothing is queued. err is set when the
// coordinator sent a body that does not decode to an instruction.
type pendingInstruction struct {
	instruction *fl.Instruction
	err         error
}

// Serve polls address until the coordinator sends a disconnect instruction
// or ctx is done. Failed polls are logged and retried.
func (t *Transport) Serve(ctx context.Context, address string, svc client.Service) error {
	fetch, send, err := t.endpoints(address)
	if err != nil {
		return err
	}

	d := client.Dispatcher{CID: t.cfg.CID, Codec: t.codec, Service: svc}
	cid := strconv.Itoa(t.cfg.CID)

	for {
		resp, err := fetch(ctx, nil)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			t.logger.Warn("failed to poll coordinator", slog.String("address", address), slog.Any("error", err))
		default:
			if pending := resp.(pendingInstruction); pending.instruction != nil {
				ins := pending.instruction
				metrics.InstructionsTotal.WithLabelValues(cid, "http", string(ins.Type)).Inc()
				var (
					reply fl.Reply
					done  bool
				)
				if pending.err != nil {
					reply = d.Reject(*ins, pending.err)
				} else {
					reply, done = d.Handle(ctx, *ins)
				}
				if reply.Error != "" {
					t.logger.Warn("instruction failed",
						slog.String("id", ins.ID),
						slog.String("type", string(ins.Type)),
						slog.String("error", reply.Error),
					)
				}
				if _, err := send(ctx, reply); err != nil {
					return fmt.Errorf("failed to post reply %s: %w", ins.ID, err)
				}
				if done {
					t.logger.Info("coordinator requested disconnect", slog.String("id", ins.ID))

					return nil
				}

				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

func (t *Transport) endpoints(address string) (fetch, send endpoint.Endpoint, err error) {
	base, err := url.Parse(address)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid coordinator address %q: %w", address, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, nil, fmt.Errorf("coordinator address %q must be an absolute URL", address)
	}

	cid := strconv.Itoa(t.cfg.CID)
	opts := []kithttp.ClientOption{
		kithttp.SetClient(t.client),
		kithttp.ClientBefore(setRequestID),
	}

	fetch = kithttp.NewClient(
		http.MethodGet,
		base.JoinPath("clients", cid, "instructions"),
		encodeFetchRequest,
		decodeInstructionResponse,
		opts...,
	).Endpoint()

	send = kithttp.NewClient(
		http.MethodPost,
		base.JoinPath("clients", cid, "replies"),
		kithttp.EncodeJSONRequest,
		decodeReplyResponse,
		opts...,
	).Endpoint()

	return fetch, send, nil
}

func setRequestID(ctx context.Context, r *http.Request) context.Context {
	r.Header.Set(requestIDHeader, uuid.NewString())

	return ctx
}

func encodeFetchRequest(_ context.Context, r *http.Request, _ interface{}) error {
	r.Header.Set("Accept", contentType)

	return nil
}

func decodeInstructionResponse(_ context.Context, resp *http.Response) (interface{}, error) {
	switch resp.StatusCode {
	case http.StatusNoContent:
		return pendingInstruction{}, nil
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read instruction: %w", err)
		}
		ins, err := fl.DecodeInstruction(body)

		return pendingInstruction{instruction: &ins, err: err}, nil
	default:
		return nil, statusError(resp)
	}
}

func decodeReplyResponse(_ context.Context, resp *http.Response) (interface{}, error) {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(resp)
	}

	return nil, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return fmt.Errorf("%w: %s: %s", errUnexpectedStatus, resp.Status, bytes.TrimSpace(body))
}
