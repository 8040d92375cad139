// Package solution holds the output trajectory of a simulation run and its
// JSON persistence. A saved solution can seed the initial state of a later
// simulation.
package solution

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// envelopeVersion is bumped when the on-disk layout changes.
const envelopeVersion = 1

// StepAnnotation marks the span of one experiment step inside a
// concatenated solution.
type StepAnnotation struct {
	Index     int     `json:"index"`
	Label     string  `json:"label"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Sample is one interpolated point of a solution.
type Sample struct {
	Time        float64
	State       []float64
	Voltage     float64
	Current     float64
	SOC         float64
	Temperature float64
}

// Solution is the state and output trajectory of one simulation run.
type Solution struct {
	Model        string `json:"model"`
	ParameterSet string `json:"parameterSet"`

	Times  []float64   `json:"times"`
	States [][]float64 `json:"states"`

	Voltage     []float64 `json:"voltage"`
	Current     []float64 `json:"current"`
	SOC         []float64 `json:"soc"`
	Temperature []float64 `json:"temperature"`

	Steps       []StepAnnotation `json:"steps,omitempty"`
	Termination string           `json:"termination,omitempty"`

	SolveDuration time.Duration `json:"solveDuration,omitempty"`
}

// Len returns the number of recorded samples.
func (s *Solution) Len() int { return len(s.Times) }

// Final returns the last recorded time and state.
func (s *Solution) Final() (float64, []float64) {
	n := s.Len()
	if n == 0 {
		return 0, nil
	}
	return s.Times[n-1], s.States[n-1]
}

// Last returns the last recorded sample.
func (s *Solution) Last() Sample {
	n := s.Len()
	if n == 0 {
		return Sample{}
	}
	return s.sample(n - 1)
}

func (s *Solution) sample(i int) Sample {
	return Sample{
		Time:        s.Times[i],
		State:       s.States[i],
		Voltage:     s.Voltage[i],
		Current:     s.Current[i],
		SOC:         s.SOC[i],
		Temperature: s.Temperature[i],
	}
}

// At returns the solution linearly interpolated at time t, clamped to the
// recorded range.
func (s *Solution) At(t float64) (Sample, error) {
	n := s.Len()
	if n == 0 {
		return Sample{}, pkgerrors.New("empty solution")
	}
	if t <= s.Times[0] {
		return s.sample(0), nil
	}
	if t >= s.Times[n-1] {
		return s.sample(n - 1), nil
	}
	hi := sort.SearchFloat64s(s.Times, t)
	lo := hi - 1
	w := (t - s.Times[lo]) / (s.Times[hi] - s.Times[lo])
	lerp := func(a, b float64) float64 { return a + w*(b-a) }

	state := make([]float64, len(s.States[lo]))
	for i := range state {
		state[i] = lerp(s.States[lo][i], s.States[hi][i])
	}
	return Sample{
		Time:        t,
		State:       state,
		Voltage:     lerp(s.Voltage[lo], s.Voltage[hi]),
		Current:     lerp(s.Current[lo], s.Current[hi]),
		SOC:         lerp(s.SOC[lo], s.SOC[hi]),
		Temperature: lerp(s.Temperature[lo], s.Temperature[hi]),
	}, nil
}

// Append concatenates another solution produced by the same model, shifting
// nothing: the other solution's times are expected to continue this one's.
func (s *Solution) Append(other *Solution) {
	s.Times = append(s.Times, other.Times...)
	s.States = append(s.States, other.States...)
	s.Voltage = append(s.Voltage, other.Voltage...)
	s.Current = append(s.Current, other.Current...)
	s.SOC = append(s.SOC, other.SOC...)
	s.Temperature = append(s.Temperature, other.Temperature...)
	s.Steps = append(s.Steps, other.Steps...)
	if other.Termination != "" {
		s.Termination = other.Termination
	}
}

// TrimTo drops all samples after time t.
func (s *Solution) TrimTo(t float64) {
	n := sort.SearchFloat64s(s.Times, t)
	for n < s.Len() && s.Times[n] == t {
		n++
	}
	s.Times = s.Times[:n]
	s.States = s.States[:n]
	s.Voltage = s.Voltage[:n]
	s.Current = s.Current[:n]
	s.SOC = s.SOC[:n]
	s.Temperature = s.Temperature[:n]
}

// Validate checks internal slice consistency, e.g. after loading from disk.
func (s *Solution) Validate() error {
	n := s.Len()
	if n == 0 {
		return pkgerrors.New("solution has no samples")
	}
	for name, l := range map[string]int{
		"states":      len(s.States),
		"voltage":     len(s.Voltage),
		"current":     len(s.Current),
		"soc":         len(s.SOC),
		"temperature": len(s.Temperature),
	} {
		if l != n {
			return pkgerrors.Errorf("solution has %d times but %d %s samples", n, l, name)
		}
	}
	for i := 1; i < n; i++ {
		if s.Times[i] < s.Times[i-1] {
			return pkgerrors.Errorf("solution times decrease at sample %d", i)
		}
	}
	return nil
}

type envelope struct {
	Version  int       `json:"version"`
	Solution *Solution `json:"solution"`
}

// Save writes the solution as versioned JSON.
func (s *Solution) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope{Version: envelopeVersion, Solution: s}); err != nil {
		return pkgerrors.Wrap(err, "failed to encode solution")
	}
	return nil
}

// SaveFile writes the solution as a versioned JSON file.
func (s *Solution) SaveFile(path string) error {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer fp.Close()

	if err := s.Save(fp); err != nil {
		return pkgerrors.Wrapf(err, "failed to write solution to %s", path)
	}
	return nil
}

// LoadFile reads a solution saved by SaveFile.
func LoadFile(path string) (*Solution, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open solution %s", path)
	}
	defer fp.Close()
	return Load(fp)
}

// Load reads a solution from JSON.
func Load(r io.Reader) (*Solution, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read solution")
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal solution")
	}
	if env.Version != envelopeVersion {
		return nil, pkgerrors.Errorf("unsupported solution version %d (want %d)", env.Version, envelopeVersion)
	}
	if env.Solution == nil {
		return nil, pkgerrors.New("solution envelope is empty")
	}
	if err := env.Solution.Validate(); err != nil {
		return nil, err
	}
	return env.Solution, nil
}
