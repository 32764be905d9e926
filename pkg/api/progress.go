package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Progress is a job's completion percentage. The queue may report it as a
// number, a numeric string, null, "NaN" or not at all; anything that is not a
// finite number decodes as indeterminate.
type Progress struct {
	value float64
	known bool
}

func ProgressOf(v float64) Progress {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Progress{}
	}
	return Progress{value: v, known: true}
}

func IndeterminateProgress() Progress {
	return Progress{}
}

func (p Progress) Known() bool {
	return p.known
}

// Percent is the value clamped to [0,100], or 0 when indeterminate.
func (p Progress) Percent() float64 {
	if !p.known {
		return 0
	}
	return math.Max(0, math.Min(100, p.value))
}

func (p Progress) String() string {
	if !p.known {
		return "-"
	}
	return strconv.FormatFloat(p.Percent(), 'f', 0, 64) + "%"
}

func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.known {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

func (p *Progress) UnmarshalJSON(data []byte) error {
	*p = Progress{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		*p = ProgressOf(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*p = ProgressOf(v)
	return nil
}
