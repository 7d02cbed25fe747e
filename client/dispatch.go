package client

import (
	"context"
	"encoding/json"
	"fmt"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
)

// Dispatcher turns coordinator instructions into Service calls and their
// results into replies. Transports share it so that every wire carries the
// same payloads.
type Dispatcher struct {
	CID     int
	Codec   fl.Codec
	Service Service
}

// Handle runs ins and returns the reply to send back. done reports a
// disconnect instruction, after which the transport must stop serving.
func (d Dispatcher) Handle(ctx context.Context, ins fl.Instruction) (reply fl.Reply, done bool) {
	if err := ins.Validate(); err != nil {
		return d.Reject(ins, err), false
	}

	reply = fl.Reply{ID: ins.ID, Type: ins.Type, CID: d.CID}

	if err := d.handle(ctx, ins, &reply); err != nil {
		return d.Reject(ins, err), ins.Type == fl.DisconnectIns
	}
	if _, err := json.Marshal(reply); err != nil {
		return d.Reject(ins, fmt.Errorf("reply cannot be encoded: %w", err)), ins.Type == fl.DisconnectIns
	}

	return reply, ins.Type == fl.DisconnectIns
}

// Reject builds the error reply for ins. Transports use it for instructions
// that could not be decoded; ins then carries only what was recovered.
func (d Dispatcher) Reject(ins fl.Instruction, err error) fl.Reply {
	if err == nil {
		err = pkgerrors.ErrMalformedInstruction
	}

	return fl.Reply{ID: ins.ID, Type: ins.Type, CID: d.CID, Error: err.Error()}
}

func (d Dispatcher) handle(ctx context.Context, ins fl.Instruction, reply *fl.Reply) error {
	switch ins.Type {
	case fl.GetParametersIns:
		pv, err := d.Service.GetParameters(ctx)
		if err != nil {
			return err
		}

		return d.encode(pv, reply)
	case fl.FitIns:
		params, err := d.Codec.Decode(*ins.Parameters)
		if err != nil {
			return err
		}
		res, err := d.Service.Fit(ctx, params, ins.Config)
		if err != nil {
			return err
		}
		reply.NumExamples = res.NumExamples
		reply.Metrics = res.Metrics

		return d.encode(res.Parameters, reply)
	case fl.EvaluateIns:
		params, err := d.Codec.Decode(*ins.Parameters)
		if err != nil {
			return err
		}
		res, err := d.Service.Evaluate(ctx, params, ins.Config)
		if err != nil {
			return err
		}
		loss := res.Loss
		reply.Loss = &loss
		reply.NumExamples = res.NumExamples
		reply.Metrics = res.Metrics

		return nil
	case fl.DisconnectIns:
		return nil
	default:
		return fmt.Errorf("unhandled instruction type %q", ins.Type)
	}
}

func (d Dispatcher) encode(pv fl.ParameterVector, reply *fl.Reply) error {
	payload, err := d.Codec.Encode(pv)
	if err != nil {
		return err
	}
	reply.Parameters = &payload

	return nil
}
