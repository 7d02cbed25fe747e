package fl

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
)

type InstructionType string

const (
	GetParametersIns InstructionType = "get_parameters"
	FitIns           InstructionType = "fit"
	EvaluateIns      InstructionType = "evaluate"
	DisconnectIns    InstructionType = "disconnect"
)

// Instruction is a coordinator request addressed to one client.
type Instruction struct {
	ID         string             `json:"id"`
	Type       InstructionType    `json:"type"`
	Parameters *ParametersPayload `json:"parameters,omitempty"`
	Config     RoundContext       `json:"config"`
}

func (ins Instruction) Validate() error {
	if ins.ID == "" {
		return fmt.Errorf("instruction: id is required but missing: %w", pkgerrors.ErrMissingValue)
	}

	switch ins.Type {
	case GetParametersIns, DisconnectIns:
		return nil
	case FitIns, EvaluateIns:
		if ins.Parameters == nil {
			return fmt.Errorf("instruction %s: parameters are required for %s: %w", ins.ID, ins.Type, pkgerrors.ErrMissingValue)
		}

		return nil
	default:
		return fmt.Errorf("instruction %s: unknown type %q: %w", ins.ID, ins.Type, pkgerrors.ErrInvalidValue)
	}
}

// DecodeInstruction decodes an instruction from its JSON form. When the body
// is malformed, the returned instruction still carries whatever id and type
// could be recovered so that the failure can be reported to the sender.
func DecodeInstruction(data []byte) (Instruction, error) {
	var ins Instruction
	err := json.Unmarshal(data, &ins)
	if err == nil {
		return ins, nil
	}

	var header struct {
		ID   any `json:"id"`
		Type any `json:"type"`
	}
	_ = json.Unmarshal(data, &header)
	ins = Instruction{}
	if id, ok := header.ID.(string); ok {
		ins.ID = id
	}
	if typ, ok := header.Type.(string); ok {
		ins.Type = InstructionType(typ)
	}

	return ins, fmt.Errorf("%w: %w", pkgerrors.ErrMalformedInstruction, err)
}

// Reply is the client answer to an Instruction. Error is set when the
// RPC failed; the other fields are then left empty.
type Reply struct {
	ID          string             `json:"id"`
	Type        InstructionType    `json:"type"`
	CID         int                `json:"cid"`
	Parameters  *ParametersPayload `json:"parameters,omitempty"`
	NumExamples int                `json:"num_examples,omitempty"`
	Loss        *float64           `json:"loss,omitempty"`
	Metrics     *Metrics           `json:"metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
}
