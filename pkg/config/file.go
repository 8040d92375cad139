package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/pkg/parameters"
	"github.com/cellsim/cellsim/pkg/utils/ptr"
)

var defaultFileConfig = &RawFileConfig{
	SolverRTol:          ptr.To(1e-6),
	SolverATol:          ptr.To(1e-8),
	SolverMaxStep:       ptr.To(10.0),
	DefaultParameterSet: ptr.To(parameters.DefaultSet),
	OutputDir:           ptr.To("."),
	ListenAddr:          ptr.To("127.0.0.1:9277"),
	PoolSize:            ptr.To(4),
	JobHistoryLimit:     ptr.To(100),
}

var _ Config = &File{}

// File is a JSON-file-backed Config. Missing fields fall back to defaults,
// so config files only carry what the user changed.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads (or initializes) a config from the given path.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	if err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFileFromConfig wraps an existing raw config.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}
	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk layout. Pointer fields distinguish "unset"
// from zero values.
type RawFileConfig struct {
	SolverRTol          *float64 `json:"solverRTol,omitempty"`
	SolverATol          *float64 `json:"solverATol,omitempty"`
	SolverMaxStep       *float64 `json:"solverMaxStep,omitempty"`
	DefaultParameterSet *string  `json:"defaultParameterSet,omitempty"`
	OutputDir           *string  `json:"outputDir,omitempty"`
	ListenAddr          *string  `json:"listenAddr,omitempty"`
	PoolSize            *int     `json:"poolSize,omitempty"`
	JobHistoryLimit     *int     `json:"jobHistoryLimit,omitempty"`
}

// NewRawFileConfigFromConfig snapshots a Config into its raw form.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}
	return &RawFileConfig{
		SolverRTol:          ptr.To(c.SolverRTol()),
		SolverATol:          ptr.To(c.SolverATol()),
		SolverMaxStep:       ptr.To(c.SolverMaxStep()),
		DefaultParameterSet: ptr.To(c.DefaultParameterSet()),
		OutputDir:           ptr.To(c.OutputDir()),
		ListenAddr:          ptr.To(c.ListenAddr()),
		PoolSize:            ptr.To(c.PoolSize()),
		JobHistoryLimit:     ptr.To(c.JobHistoryLimit()),
	}, nil
}

func getOr[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) SolverRTol() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.SolverRTol, defaultFileConfig.SolverRTol)
}

func (f *File) SolverATol() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.SolverATol, defaultFileConfig.SolverATol)
}

func (f *File) SolverMaxStep() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.SolverMaxStep, defaultFileConfig.SolverMaxStep)
}

func (f *File) DefaultParameterSet() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.DefaultParameterSet, defaultFileConfig.DefaultParameterSet)
}

func (f *File) OutputDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.OutputDir, defaultFileConfig.OutputDir)
}

func (f *File) ListenAddr() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.ListenAddr, defaultFileConfig.ListenAddr)
}

func (f *File) PoolSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.PoolSize, defaultFileConfig.PoolSize)
}

func (f *File) JobHistoryLimit() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return getOr(f.c.JobHistoryLimit, defaultFileConfig.JobHistoryLimit)
}

func (f *File) SetSolverRTol(v float64) {
	if v <= 0 {
		panic("solver rtol must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SolverRTol = &v
}

func (f *File) SetSolverATol(v float64) {
	if v <= 0 {
		panic("solver atol must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SolverATol = &v
}

func (f *File) SetSolverMaxStep(v float64) {
	if v <= 0 {
		panic("solver max step must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SolverMaxStep = &v
}

func (f *File) SetDefaultParameterSet(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DefaultParameterSet = &v
}

func (f *File) SetOutputDir(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.OutputDir = &v
}

func (f *File) SetListenAddr(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ListenAddr = &v
}

func (f *File) SetPoolSize(v int) {
	if v < 1 {
		panic("pool size must be at least 1")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.PoolSize = &v
}

func (f *File) SetJobHistoryLimit(v int) {
	if v < 1 {
		panic("job history limit must be at least 1")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.JobHistoryLimit = &v
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// No file yet: start from an empty config so every getter
			// falls back to the defaults.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if err := json.Unmarshal(b, &conf); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f.c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}
	return nil
}

// LogrusFields exposes the effective config for startup logging.
func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"solverRTol":          f.SolverRTol(),
		"solverATol":          f.SolverATol(),
		"solverMaxStep":       f.SolverMaxStep(),
		"defaultParameterSet": f.DefaultParameterSet(),
		"outputDir":           f.OutputDir(),
		"listenAddr":          f.ListenAddr(),
		"poolSize":            f.PoolSize(),
		"jobHistoryLimit":     f.JobHistoryLimit(),
	}
}
