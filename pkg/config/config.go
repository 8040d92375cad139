package config

// Config holds the tool-wide defaults: solver tolerances, the default
// parameter set, output locations and the job server settings.
type Config interface {
	SolverRTol() float64
	SolverATol() float64
	SolverMaxStep() float64
	DefaultParameterSet() string
	OutputDir() string
	ListenAddr() string
	PoolSize() int
	JobHistoryLimit() int

	SetSolverRTol(float64)
	SetSolverATol(float64)
	SetSolverMaxStep(float64)
	SetDefaultParameterSet(string)
	SetOutputDir(string)
	SetListenAddr(string)
	SetPoolSize(int)
	SetJobHistoryLimit(int)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
