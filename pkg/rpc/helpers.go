package rpc

import "time"

// DefaultOpts are the limits used by the indexer process.
func DefaultOpts(endpoints []string) Opts {
	return Opts{
		Endpoints:       endpoints,
		Timeout:         10 * time.Second,
		RPS:             50,
		Burst:           100,
		BreakerFailures: 5,
		BreakerCooldown: 15 * time.Second,
	}
}
