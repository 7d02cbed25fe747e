// Package client implements the per-round protocol of a federated learning
// participant: it receives global parameters from the coordinator, trains or
// evaluates locally and reports parameters, example counts and metrics back.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/flclient/fabric"
	"github.com/absmach/flclient/ml"
	"github.com/absmach/flclient/ml/loops"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/absmach/flclient/pkg/metrics"
)

// TrainFunc runs epochs passes over train and returns the training metrics.
type TrainFunc func(ctx context.Context, f *fabric.Fabric, model ml.Model, train *fabric.Loader, opt ml.Optimizer, epochs int) (*fl.Metrics, error)

// EvalFunc runs one validation pass and returns its metrics. The metrics
// must contain fl.LossKey when used for an evaluate round.
type EvalFunc func(ctx context.Context, f *fabric.Fabric, model ml.Model, val *fabric.Loader) (*fl.Metrics, error)

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithTrainFunc(fn TrainFunc) Option {
	return func(h *Handler) {
		h.train = fn
	}
}

func WithEvalFunc(fn EvalFunc) Option {
	return func(h *Handler) {
		h.eval = fn
	}
}

// Status is a point-in-time snapshot of the handler.
type Status struct {
	CID             int              `json:"cid"`
	State           string           `json:"state"`
	Device          string           `json:"device,omitempty"`
	NumExamples     fl.ExampleCounts `json:"num_examples"`
	PreTrainVal     bool             `json:"pre_train_val"`
	FitRounds       uint64           `json:"fit_rounds"`
	EvaluateRounds  uint64           `json:"evaluate_rounds"`
	LastServerRound int              `json:"last_server_round"`
	LastTrainLoss   *float64         `json:"last_train_loss,omitempty"`
	LastEvalLoss    *float64         `json:"last_eval_loss,omitempty"`
	OptimizerSteps  uint64           `json:"optimizer_steps"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Handler owns the local model, data module and execution context of one
// client. RPCs are serialized: at most one of them runs at a time.
type Handler struct {
	rpc sync.Mutex

	cid         int
	preTrainVal bool
	counts      fl.ExampleCounts
	fabric      *fabric.Fabric
	data        ml.DataModule
	rawModel    ml.Model
	rawOpt      ml.Optimizer

	model       *fabric.Module
	optimizer   *fabric.Optimizer
	trainLoader *fabric.Loader
	valLoader   *fabric.Loader

	train  TrainFunc
	eval   EvalFunc
	logger *slog.Logger

	mu     sync.RWMutex
	state  State
	status Status
}

// NewHandler builds a handler in the Constructed state. The optimizer is
// configured from the model here and lives as long as the handler.
func NewHandler(cid int, model ml.Model, data ml.DataModule, counts fl.ExampleCounts, fab *fabric.Fabric, preTrainVal bool, opts ...Option) (*Handler, error) {
	if model == nil || data == nil || fab == nil {
		return nil, fmt.Errorf("handler requires a model, a data module and a fabric: %w", pkgerrors.ErrMissingValue)
	}

	opt, err := model.ConfigureOptimizer()
	if err != nil {
		return nil, fmt.Errorf("failed to configure optimizer: %w", err)
	}

	h := &Handler{
		cid:         cid,
		preTrainVal: preTrainVal,
		counts:      counts,
		fabric:      fab,
		data:        data,
		rawModel:    model,
		rawOpt:      opt,
		train:       loops.Train,
		eval:        loops.Evaluate,
		logger:      slog.Default(),
		state:       Constructed,
	}
	for _, o := range opts {
		o(h)
	}
	h.status = Status{
		CID:         cid,
		State:       Constructed.String(),
		NumExamples: counts,
		PreTrainVal: preTrainVal,
		UpdatedAt:   time.Now(),
	}

	return h, nil
}

func (h *Handler) CID() int {
	return h.cid
}

func (h *Handler) NumExamples() fl.ExampleCounts {
	return h.counts
}

func (h *Handler) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.state
}

// Status is safe to call while an RPC is running.
func (h *Handler) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.status
	s.State = h.state.String()
	if h.optimizer != nil {
		s.OptimizerSteps = h.optimizer.Steps()
	}

	return s
}

// Initialize launches the execution context, binds model and optimizer to
// it and prepares both loaders. It must run exactly once before any RPC.
func (h *Handler) Initialize(ctx context.Context) error {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if err := h.check(Initialized); err != nil {
		return err
	}

	if err := h.fabric.Launch(ctx); err != nil {
		return err
	}

	model, opt, err := h.fabric.Setup(h.rawModel, h.rawOpt)
	if err != nil {
		return err
	}

	train, err := h.data.TrainLoader()
	if err != nil {
		return fmt.Errorf("train loader: %w: %w", pkgerrors.ErrDataSetup, err)
	}
	val, err := h.data.ValLoader()
	if err != nil {
		return fmt.Errorf("val loader: %w: %w", pkgerrors.ErrDataSetup, err)
	}
	loaders, err := h.fabric.SetupDataloaders(train, val)
	if err != nil {
		return err
	}

	h.model = model
	h.trainLoader, h.valLoader = loaders[0], loaders[1]

	h.mu.Lock()
	h.optimizer = opt
	h.status.Device = h.fabric.Device()
	h.mu.Unlock()
	h.transition(Initialized)

	cid := strconv.Itoa(h.cid)
	metrics.Examples.WithLabelValues(cid, "train").Set(float64(h.counts.Trainset))
	metrics.Examples.WithLabelValues(cid, "val").Set(float64(h.counts.Valset))

	h.logger.Info("client initialized",
		slog.Int("cid", h.cid),
		slog.String("device", h.fabric.Device()),
		slog.Int("trainset", h.counts.Trainset),
		slog.Int("valset", h.counts.Valset),
	)

	return nil
}

// GetParameters returns a copy of the current parameters in canonical order.
func (h *Handler) GetParameters(_ context.Context) (fl.ParameterVector, error) {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if err := h.ready(); err != nil {
		return nil, err
	}

	return h.parameters(), nil
}

// SetParameters replaces the model parameters. Arity, and by strict load
// names and shapes, must match the model exactly.
func (h *Handler) SetParameters(_ context.Context, params fl.ParameterVector) error {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if err := h.ready(); err != nil {
		return err
	}

	return h.setParameters(params)
}

// Fit runs one local training round. The returned metrics hold, in order,
// the pre-training validation metrics suffixed with fl.PreTrainValSuffix
// when enabled, the client id under fl.CIDKey and the training metrics.
func (h *Handler) Fit(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.FitRes, error) {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if err := h.check(Fitting); err != nil {
		return fl.FitRes{}, err
	}
	if rc.LocalEpochs < 1 {
		return fl.FitRes{}, fmt.Errorf("local_epochs must be at least 1, got %d: %w", rc.LocalEpochs, pkgerrors.ErrInvalidRoundContext)
	}

	h.transition(Fitting)
	defer h.transition(Initialized)

	if err := h.setParameters(params); err != nil {
		return fl.FitRes{}, err
	}

	cid := strconv.Itoa(h.cid)
	results := fl.NewMetrics()
	if h.preTrainVal {
		pre, err := h.eval(ctx, h.fabric, h.model, h.valLoader)
		if err != nil {
			return fl.FitRes{}, fmt.Errorf("pre-train validation: %w", err)
		}
		if err := pre.Validate(); err != nil {
			return fl.FitRes{}, fmt.Errorf("pre-train validation: %w: %w", pkgerrors.ErrEvaluation, err)
		}
		if err := results.Merge(pre, fl.PreTrainValSuffix); err != nil {
			return fl.FitRes{}, err
		}
		if loss, ok := pre.Get(fl.LossKey); ok {
			metrics.LastLoss.WithLabelValues(cid, "pre_train_val").Set(loss)
		}
	}

	if err := results.Add(fl.CIDKey, float64(h.cid)); err != nil {
		return fl.FitRes{}, err
	}

	trained, err := h.train(ctx, h.fabric, h.model, h.trainLoader, h.optimizer, rc.LocalEpochs)
	if err != nil {
		return fl.FitRes{}, fmt.Errorf("training: %w", err)
	}
	if err := trained.Validate(); err != nil {
		return fl.FitRes{}, fmt.Errorf("training: %w: %w", pkgerrors.ErrEvaluation, err)
	}
	if err := results.Merge(trained, ""); err != nil {
		return fl.FitRes{}, err
	}

	attrs := []any{slog.Int("cid", h.cid), slog.Int("server_round", rc.ServerRound), slog.Int("local_epochs", rc.LocalEpochs)}
	loss, hasLoss := trained.Get(fl.LossKey)
	if hasLoss {
		attrs = append(attrs, slog.Float64("train_loss", loss))
		metrics.LastLoss.WithLabelValues(cid, "train").Set(loss)
	}
	metrics.ServerRound.WithLabelValues(cid).Set(float64(rc.ServerRound))
	h.logger.Info("fit round completed", attrs...)

	h.mu.Lock()
	h.status.FitRounds++
	h.status.LastServerRound = rc.ServerRound
	if hasLoss {
		h.status.LastTrainLoss = &loss
	}
	h.mu.Unlock()

	return fl.FitRes{
		Parameters:  h.parameters(),
		NumExamples: h.counts.Trainset,
		Metrics:     results,
	}, nil
}

// Evaluate loads params and runs one validation pass. The validation
// metrics must report a loss.
func (h *Handler) Evaluate(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.EvaluateRes, error) {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if err := h.check(Evaluating); err != nil {
		return fl.EvaluateRes{}, err
	}

	h.transition(Evaluating)
	defer h.transition(Initialized)

	if err := h.setParameters(params); err != nil {
		return fl.EvaluateRes{}, err
	}

	evaluated, err := h.eval(ctx, h.fabric, h.model, h.valLoader)
	if err != nil {
		return fl.EvaluateRes{}, fmt.Errorf("%w: %w", pkgerrors.ErrEvaluation, err)
	}
	loss, ok := evaluated.Get(fl.LossKey)
	if !ok {
		return fl.EvaluateRes{}, fmt.Errorf("validation metrics have no %q entry: %w", fl.LossKey, pkgerrors.ErrEvaluation)
	}
	if err := evaluated.Validate(); err != nil {
		return fl.EvaluateRes{}, fmt.Errorf("%w: %w", pkgerrors.ErrEvaluation, err)
	}

	results := fl.NewMetrics()
	results.Set(fl.CIDKey, float64(h.cid))
	if err := results.Merge(evaluated, ""); err != nil {
		return fl.EvaluateRes{}, err
	}

	cid := strconv.Itoa(h.cid)
	metrics.LastLoss.WithLabelValues(cid, "evaluate").Set(loss)
	metrics.ServerRound.WithLabelValues(cid).Set(float64(rc.ServerRound))
	h.logger.Info("evaluate round completed",
		slog.Int("cid", h.cid),
		slog.Int("server_round", rc.ServerRound),
		slog.Float64("loss", loss),
	)

	h.mu.Lock()
	h.status.EvaluateRounds++
	h.status.LastServerRound = rc.ServerRound
	h.status.LastEvalLoss = &loss
	h.mu.Unlock()

	return fl.EvaluateRes{
		Loss:        loss,
		NumExamples: h.counts.Valset,
		Metrics:     results,
	}, nil
}

// Terminate moves the handler to its final state. Further RPCs fail with
// ErrTerminated. Terminating twice is a no-op.
func (h *Handler) Terminate() {
	h.rpc.Lock()
	defer h.rpc.Unlock()

	if h.State() == Terminated {
		return
	}
	h.transition(Terminated)
	h.logger.Info("client terminated", slog.Int("cid", h.cid))
}

func (h *Handler) ready() error {
	switch s := h.State(); s {
	case Initialized:
		return nil
	case Constructed:
		return pkgerrors.ErrNotInitialized
	case Terminated:
		return pkgerrors.ErrTerminated
	default:
		return fmt.Errorf("handler is %s: %w", s, pkgerrors.ErrInvalidStateTransition)
	}
}

func (h *Handler) check(to State) error {
	return validateTransition(h.State(), to)
}

func (h *Handler) transition(to State) {
	h.mu.Lock()
	h.state = to
	h.status.State = to.String()
	h.status.UpdatedAt = time.Now()
	h.mu.Unlock()
}

func (h *Handler) parameters() fl.ParameterVector {
	named := h.model.Parameters()
	pv := make(fl.ParameterVector, len(named))
	for i, p := range named {
		pv[i] = p.Tensor.Clone()
	}

	return pv
}

func (h *Handler) setParameters(params fl.ParameterVector) error {
	named := h.model.Parameters()
	if len(params) != len(named) {
		return fmt.Errorf("received %d parameter tensors, model has %d: %w", len(params), len(named), pkgerrors.ErrParameterMismatch)
	}

	var errs []error
	for i, p := range named {
		if !p.SameShape(params[i]) {
			errs = append(errs, fmt.Errorf("parameter %d (%s) has shape %v, model expects %v: %w", i, p.Name, params[i].Shape, p.Shape, pkgerrors.ErrParameterMismatch))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	state := make([]fl.NamedTensor, len(named))
	for i, p := range named {
		state[i] = fl.NamedTensor{Name: p.Name, Tensor: params[i]}
	}

	return h.model.LoadStateDict(state, true)
}
