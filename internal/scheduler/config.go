// Package scheduler runs a placement request through the registered host
// allocation strategies: it picks the strategy that governs the request,
// drops hosts whose hypervisor cannot run it, and lets the strategy narrow
// the remaining candidates.
package scheduler

// Config holds the scheduler configuration.
type Config struct {
	// DisabledStrategies are excluded from every request, in addition to the
	// request's own exclusions.
	DisabledStrategies []string `mapstructure:"disabled_strategies"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{}
}
