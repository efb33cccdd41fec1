package config

// Default configuration values.
const (
	DefaultParallelism = 8
	DefaultMode        = ModeVector
	DefaultLogLevel    = "info"
	DefaultOutput      = "auto" // TTY=table, non-TTY=markdown
)

// Evaluation modes.
const (
	ModeRow    = "row"
	ModeVector = "vector"
)

// defaults is the lowest configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"parallelism": DefaultParallelism,
		"mode":        DefaultMode,
		"log_level":   DefaultLogLevel,
		"verbose":     false,
		"output":      DefaultOutput,
	}
}

// ApplyDefaults fills unset values of a Config built in code.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	for i := range c.Views {
		if c.Views[i].Name == "" {
			c.Views[i].Name = c.Views[i].Table
		}
	}
}
