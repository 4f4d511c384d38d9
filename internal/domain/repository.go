package domain

// Sink consumes finished rows in arrival order and the stats of the run.
// OnRow is called exactly once per row, OnComplete exactly once per run.
type Sink interface {
	OnRow(row RowResult) error
	OnComplete(stats RunStats) error
}

// ConfigReader reads the application configuration
type ConfigReader interface {
	ReadConfig(path string) (*Config, error)
}
