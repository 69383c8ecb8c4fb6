package monitor

import (
	"time"
)

// clusterKey groups failed logins by source IP and target account.
type clusterKey struct {
	ip       string
	username string
}

// loginCluster is a time-ordered list of failure timestamps for one key.
// Entries outside the window are pruned lazily on record and periodically
// by the sweeper.
type loginCluster struct {
	failures []time.Time
}

// record appends a failure and returns how many failures fall inside the
// window ending at ts.
func (c *loginCluster) record(ts time.Time, window time.Duration) int {
	c.failures = append(c.failures, ts)
	c.prune(ts.Add(-window))
	return len(c.failures)
}

// prune drops entries older than cutoff.
func (c *loginCluster) prune(cutoff time.Time) {
	kept := c.failures[:0]
	for _, t := range c.failures {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept
}

func (c *loginCluster) empty() bool {
	return len(c.failures) == 0
}
