package fl

import (
	"encoding/json"
	"fmt"

	"github.com/absmach/flclient/pkg/crypto"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/fxamacker/cbor/v2"
)

const (
	FormatJSONF64 = "json-f64"
	FormatCBOR    = "cbor"
)

// TensorBlob is one encoded tensor. Data is base64 encoded by encoding/json.
type TensorBlob struct {
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

// ParametersPayload is the wire form of a ParameterVector.
type ParametersPayload struct {
	Format    string       `json:"format"`
	Encrypted bool         `json:"encrypted,omitempty"`
	Tensors   []TensorBlob `json:"tensors"`
}

// Codec converts parameter vectors to and from their wire form.
// A nil Cipher leaves tensor data in clear.
type Codec struct {
	Format string
	Cipher *crypto.Cipher
}

func NewCodec(format string, c *crypto.Cipher) (Codec, error) {
	if format == "" {
		format = FormatJSONF64
	}
	if !SupportedFormat(format) {
		return Codec{}, fmt.Errorf("format %q: %w", format, pkgerrors.ErrUnsupportedFormat)
	}

	return Codec{Format: format, Cipher: c}, nil
}

func SupportedFormat(format string) bool {
	return format == FormatJSONF64 || format == FormatCBOR
}

func (c Codec) Encode(pv ParameterVector) (ParametersPayload, error) {
	payload := ParametersPayload{
		Format:    c.Format,
		Encrypted: c.Cipher != nil,
		Tensors:   make([]TensorBlob, len(pv)),
	}

	for i, t := range pv {
		if err := t.Validate(); err != nil {
			return ParametersPayload{}, fmt.Errorf("encode tensor %d: %w", i, err)
		}

		data, err := marshalValues(c.Format, t.Data)
		if err != nil {
			return ParametersPayload{}, fmt.Errorf("encode tensor %d: %w", i, err)
		}
		if c.Cipher != nil {
			if data, err = c.Cipher.Seal(data); err != nil {
				return ParametersPayload{}, fmt.Errorf("seal tensor %d: %w", i, err)
			}
		}

		payload.Tensors[i] = TensorBlob{Shape: t.Shape, Data: data}
	}

	return payload, nil
}

func (c Codec) Decode(payload ParametersPayload) (ParameterVector, error) {
	if payload.Encrypted && c.Cipher == nil {
		return nil, fmt.Errorf("decode parameters: payload is encrypted but no workload key is configured: %w", pkgerrors.ErrMissingValue)
	}

	pv := make(ParameterVector, len(payload.Tensors))
	for i, blob := range payload.Tensors {
		data := blob.Data
		if payload.Encrypted {
			var err error
			if data, err = c.Cipher.Open(data); err != nil {
				return nil, fmt.Errorf("open tensor %d: %w", i, err)
			}
		}

		values, err := unmarshalValues(payload.Format, data)
		if err != nil {
			return nil, fmt.Errorf("decode tensor %d: %w", i, err)
		}

		t := Tensor{Shape: blob.Shape, Data: values}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("decode tensor %d: %w", i, err)
		}
		pv[i] = t
	}

	return pv, nil
}

func marshalValues(format string, values []float64) ([]byte, error) {
	if values == nil {
		values = []float64{}
	}

	switch format {
	case FormatJSONF64:
		return json.Marshal(values)
	case FormatCBOR:
		return cbor.Marshal(values)
	default:
		return nil, fmt.Errorf("format %q: %w", format, pkgerrors.ErrUnsupportedFormat)
	}
}

func unmarshalValues(format string, data []byte) ([]float64, error) {
	values := []float64{}

	switch format {
	case FormatJSONF64:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	case FormatCBOR:
		if err := cbor.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("format %q: %w", format, pkgerrors.ErrUnsupportedFormat)
	}

	return values, nil
}
