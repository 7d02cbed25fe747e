package fabric

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
)

const autoDevices = "auto"

// Devices is either "auto", a number of devices, or a list of device ids.
// The zero value means "auto".
type Devices struct {
	Count int
	IDs   []int
}

func AutoDevices() Devices {
	return Devices{}
}

func (d Devices) IsAuto() bool {
	return d.Count == 0 && d.IDs == nil
}

func (d Devices) Validate() error {
	if d.Count < 0 {
		return fmt.Errorf("devices count must not be negative, got %d: %w", d.Count, pkgerrors.ErrInvalidValue)
	}
	seen := make(map[int]bool, len(d.IDs))
	for _, id := range d.IDs {
		if id < 0 {
			return fmt.Errorf("device id must not be negative, got %d: %w", id, pkgerrors.ErrInvalidValue)
		}
		if seen[id] {
			return fmt.Errorf("device id %d listed twice: %w", id, pkgerrors.ErrInvalidValue)
		}
		seen[id] = true
	}

	return nil
}

func (d Devices) String() string {
	switch {
	case d.IDs != nil:
		return fmt.Sprint(d.IDs)
	case d.Count > 0:
		return strconv.Itoa(d.Count)
	default:
		return autoDevices
	}
}

func (d Devices) MarshalJSON() ([]byte, error) {
	switch {
	case d.IDs != nil:
		return json.Marshal(d.IDs)
	case d.Count > 0:
		return json.Marshal(d.Count)
	default:
		return json.Marshal(autoDevices)
	}
}

func (d *Devices) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := ParseDevices(raw)
	if err != nil {
		return err
	}
	*d = parsed

	return nil
}

// ParseDevices coerces a decoded config value (JSON, YAML or TOML) into
// Devices. Accepted forms: nil, "auto", an integer, a numeric string or a
// list of integers.
func ParseDevices(v any) (Devices, error) {
	switch val := v.(type) {
	case nil:
		return AutoDevices(), nil
	case string:
		if val == autoDevices {
			return AutoDevices(), nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return Devices{}, fmt.Errorf("devices must be an integer, a list of integers or %q, got %q: %w", autoDevices, val, pkgerrors.ErrInvalidValue)
		}

		return countDevices(n)
	case []any:
		if len(val) == 0 {
			return Devices{}, fmt.Errorf("devices list must not be empty: %w", pkgerrors.ErrInvalidValue)
		}
		ids := make([]int, 0, len(val))
		for i, item := range val {
			id, ok := asInt(item)
			if !ok {
				return Devices{}, fmt.Errorf("devices[%d] must be an integer, got %v: %w", i, item, pkgerrors.ErrInvalidValue)
			}
			ids = append(ids, id)
		}
		d := Devices{IDs: ids}

		return d, d.Validate()
	case []int:
		d := Devices{IDs: append([]int{}, val...)}

		return d, d.Validate()
	default:
		n, ok := asInt(val)
		if !ok {
			return Devices{}, fmt.Errorf("devices must be an integer, a list of integers or %q, got %T: %w", autoDevices, v, pkgerrors.ErrInvalidValue)
		}

		return countDevices(n)
	}
}

func countDevices(n int) (Devices, error) {
	if n <= 0 {
		return Devices{}, fmt.Errorf("devices count must be positive, got %d: %w", n, pkgerrors.ErrInvalidValue)
	}

	return Devices{Count: n}, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}

		return int(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt {
			return 0, false
		}

		return int(n), true
	default:
		return 0, false
	}
}
