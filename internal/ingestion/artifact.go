package ingestion

import "encoding/json"

// Artifact is the top-level performance-data envelope accepted by the
// ingestion endpoint. The caller may submit a single Perf object or an
// array of them under the same "performance_data" key; Perfs normalizes
// both shapes.
type Artifact struct {
	PerformanceData json.RawMessage `json:"performance_data"`
}

// Perfs unmarshals the PerformanceData field, accepting either a bare
// object or an array.
func (a Artifact) Perfs() ([]Perf, error) {
	var list []Perf
	if err := json.Unmarshal(a.PerformanceData, &list); err == nil {
		return list, nil
	}
	var single Perf
	if err := json.Unmarshal(a.PerformanceData, &single); err != nil {
		return nil, err
	}
	return []Perf{single}, nil
}

// Perf is one reported performance run.
type Perf struct {
	Framework     FrameworkRef `json:"framework"`
	Application   *Application `json:"application,omitempty"`
	PushTimestamp *float64     `json:"pushTimestamp,omitempty"`
	Suites        []Suite      `json:"suites"`
}

type FrameworkRef struct {
	Name string `json:"name"`
}

type Application struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Suite carries the optional summary value plus every alerting knob
// shared with its subtests. Subtest has the identical shape minus the
// recursive Subtests slice, per §6.
type Suite struct {
	Name          string    `json:"name"`
	PublicName    string    `json:"publicName,omitempty"`
	Value         *float64  `json:"value,omitempty"`
	Unit          string    `json:"unit,omitempty"`
	LowerIsBetter *bool     `json:"lowerIsBetter,omitempty"`
	ExtraOptions  []string  `json:"extraOptions,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ShouldAlert   *bool     `json:"shouldAlert,omitempty"`
	Monitor       *bool     `json:"monitor,omitempty"`
	AlertNotify   []string  `json:"alertNotifyEmails,omitempty"`
	AlertChange   *string   `json:"alertChangeType,omitempty"`
	AlertThresh   *float64  `json:"alertThreshold,omitempty"`
	MinBackWindow *int      `json:"minBackWindow,omitempty"`
	MaxBackWindow *int      `json:"maxBackWindow,omitempty"`
	ForeWindow    *int      `json:"foreWindow,omitempty"`
	Subtests      []Subtest `json:"subtests"`
}

type Subtest struct {
	Name          string    `json:"name"`
	PublicName    string    `json:"publicName,omitempty"`
	Value         *float64  `json:"value,omitempty"`
	Unit          string    `json:"unit,omitempty"`
	LowerIsBetter *bool     `json:"lowerIsBetter,omitempty"`
	ExtraOptions  []string  `json:"extraOptions,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ShouldAlert   *bool     `json:"shouldAlert,omitempty"`
	Monitor       *bool     `json:"monitor,omitempty"`
	AlertNotify   []string  `json:"alertNotifyEmails,omitempty"`
	AlertChange   *string   `json:"alertChangeType,omitempty"`
	AlertThresh   *float64  `json:"alertThreshold,omitempty"`
	MinBackWindow *int      `json:"minBackWindow,omitempty"`
	MaxBackWindow *int      `json:"maxBackWindow,omitempty"`
	ForeWindow    *int      `json:"foreWindow,omitempty"`
	Replicates    []float64 `json:"replicates,omitempty"`
}
