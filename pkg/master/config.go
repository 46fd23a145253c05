package master

import "time"

// Config carries the master's environment/flags. New uses the values as
// given; zero values are not replaced by DefaultConfig's defaults. Only a
// non-positive RegistryGCInterval (5m) or RemovedAgentCacheSize (1024)
// falls back to a built-in value.
type Config struct {
	AgentReregisterTimeout        time.Duration
	FrameworkFailoverTimeout      time.Duration
	OfferTimeout                  time.Duration // zero: offers never expire on their own
	MaxCompletedFrameworks        int
	MaxCompletedTasksPerFramework int
	MaxUnreachableAgents          int
	RegistryGCInterval            time.Duration
	RegistryMaxAgentAge           time.Duration
	RegistryStrict                bool
	RemovedAgentCacheSize         int
	RoleWhitelist                 []string
	Weights                       map[string]float64
	AuthenticationRequired        bool
	Authenticators                []string
}

// DefaultConfig returns the flag defaults this repository operates with
// (framework_failover_timeout has a widely-used named default; the rest
// are this repository's own reasonable operating defaults).
func DefaultConfig() Config {
	return Config{
		AgentReregisterTimeout:        10 * time.Minute,
		FrameworkFailoverTimeout:      time.Minute,
		MaxCompletedFrameworks:        50,
		MaxCompletedTasksPerFramework: 100,
		MaxUnreachableAgents:          1000,
		RegistryGCInterval:            5 * time.Minute,
		RegistryMaxAgentAge:           24 * time.Hour,
		RegistryStrict:                false,
		RemovedAgentCacheSize:         1024,
		Weights:                       make(map[string]float64),
	}
}
