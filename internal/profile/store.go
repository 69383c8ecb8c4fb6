package profile

import (
	"sync"
	"time"

	"security-monitor/internal/model"
)

const (
	maxFinancialTimestamps = 100
	maxAPITimestamps       = 1000
	maxGeoLocations        = 50
	maxActivityEntries     = 1000
)

// Store is the single keyed profile store shared by the anomaly detectors.
// Each detector owns one typed sub-section of a Profile; the store's lock
// covers every mutation, so detectors never race each other for a user.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

// Profile is the per-user running aggregate state. Sections are created
// lazily and never deleted within process lifetime.
type Profile struct {
	UserID    string
	FirstSeen time.Time
	LastSeen  time.Time

	Behavior  *BehaviorSection
	Financial *FinancialSection
	APIUsage  map[string]*APIUsageSection // keyed by source IP
	Geo       *GeoSection
	Temporal  *TemporalSection
}

// BehaviorSection backs the user-behavior detector.
type BehaviorSection struct {
	TotalEvents     int
	HourCounts      [24]int
	EventTypeCounts map[model.EventType]int
	IPAddresses     map[string]struct{}
	UserAgents      map[string]struct{}
}

// FinancialSection backs the financial-pattern detector.
type FinancialSection struct {
	TransactionCount int
	TotalAmount      float64
	MaxAmount        float64
	PaymentMethods   map[string]struct{}
	Merchants        map[string]struct{}
	Timestamps       []time.Time
}

// AverageAmount returns the running mean transaction amount.
func (f *FinancialSection) AverageAmount() float64 {
	if f.TransactionCount == 0 {
		return 0
	}
	return f.TotalAmount / float64(f.TransactionCount)
}

// APIUsageSection backs the API-usage detector for one (user, ip) pair.
type APIUsageSection struct {
	RequestCount        int
	EndpointCounts      map[string]int
	RateLimitViolations int
	Timestamps          []time.Time
}

// VisitedLocation is one resolved location observation.
type VisitedLocation struct {
	Location  model.Location
	Timestamp time.Time
}

// GeoSection backs the geographic detector.
type GeoSection struct {
	Locations []VisitedLocation
}

// Last returns the most recent observation, or nil.
func (g *GeoSection) Last() *VisitedLocation {
	if len(g.Locations) == 0 {
		return nil
	}
	return &g.Locations[len(g.Locations)-1]
}

// TemporalSection backs the temporal detector.
type TemporalSection struct {
	TotalEvents  int
	HourCounts   [24]int
	DayCounts    [7]int
	MonthCounts  [12]int
	Activity     []time.Time
	LastActivity time.Time
}

func NewStore() *Store {
	return &Store{profiles: make(map[string]*Profile)}
}

// Use runs fn with the user's profile under the store lock, creating the
// profile on first use. Everything a detector reads or writes happens
// inside fn.
func (s *Store) Use(userID string, fn func(*Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = &Profile{
			UserID:    userID,
			FirstSeen: time.Now().UTC(),
			APIUsage:  make(map[string]*APIUsageSection),
		}
		s.profiles[userID] = p
	}
	p.LastSeen = time.Now().UTC()
	fn(p)
}

// Count returns the number of tracked users.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Has reports whether a profile exists without creating one.
func (s *Store) Has(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.profiles[userID]
	return ok
}

// BehaviorOf returns the behavior section, creating it if needed. Must be
// called inside Use.
func (p *Profile) BehaviorOf() *BehaviorSection {
	if p.Behavior == nil {
		p.Behavior = &BehaviorSection{
			EventTypeCounts: make(map[model.EventType]int),
			IPAddresses:     make(map[string]struct{}),
			UserAgents:      make(map[string]struct{}),
		}
	}
	return p.Behavior
}

func (p *Profile) FinancialOf() *FinancialSection {
	if p.Financial == nil {
		p.Financial = &FinancialSection{
			PaymentMethods: make(map[string]struct{}),
			Merchants:      make(map[string]struct{}),
		}
	}
	return p.Financial
}

func (p *Profile) APIUsageOf(ip string) *APIUsageSection {
	section, ok := p.APIUsage[ip]
	if !ok {
		section = &APIUsageSection{EndpointCounts: make(map[string]int)}
		p.APIUsage[ip] = section
	}
	return section
}

func (p *Profile) GeoOf() *GeoSection {
	if p.Geo == nil {
		p.Geo = &GeoSection{}
	}
	return p.Geo
}

func (p *Profile) TemporalOf() *TemporalSection {
	if p.Temporal == nil {
		p.Temporal = &TemporalSection{}
	}
	return p.Temporal
}

// AppendCapped appends ts keeping at most max entries, dropping the oldest.
func AppendCapped(list []time.Time, ts time.Time, max int) []time.Time {
	list = append(list, ts)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// RecordTimestamp appends to the capped transaction history.
func (f *FinancialSection) RecordTimestamp(ts time.Time) {
	f.Timestamps = AppendCapped(f.Timestamps, ts, maxFinancialTimestamps)
}

func (a *APIUsageSection) RecordTimestamp(ts time.Time) {
	a.Timestamps = AppendCapped(a.Timestamps, ts, maxAPITimestamps)
}

func (t *TemporalSection) RecordActivity(ts time.Time) {
	t.Activity = AppendCapped(t.Activity, ts, maxActivityEntries)
	t.LastActivity = ts
}

func (g *GeoSection) RecordLocation(loc model.Location, ts time.Time) {
	g.Locations = append(g.Locations, VisitedLocation{Location: loc, Timestamp: ts})
	if len(g.Locations) > maxGeoLocations {
		g.Locations = g.Locations[len(g.Locations)-maxGeoLocations:]
	}
}

// Snapshot is a copyable, JSON-friendly view of a profile for the query API.
type Snapshot struct {
	UserID         string           `json:"user_id"`
	FirstSeen      time.Time        `json:"first_seen"`
	LastSeen       time.Time        `json:"last_seen"`
	TotalEvents    int              `json:"total_events"`
	EventTypes     map[string]int   `json:"event_types,omitempty"`
	KnownIPs       []string         `json:"known_ips,omitempty"`
	KnownLocations []model.Location `json:"known_locations,omitempty"`
	Transactions   int              `json:"transactions"`
	AvgAmount      float64          `json:"avg_transaction_amount"`
	MaxAmount      float64          `json:"max_transaction_amount"`
}

// SnapshotOf returns a point-in-time copy of a user's profile, or nil when
// the user has never been seen.
func (s *Store) SnapshotOf(userID string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil
	}

	snap := &Snapshot{
		UserID:    p.UserID,
		FirstSeen: p.FirstSeen,
		LastSeen:  p.LastSeen,
	}
	if p.Behavior != nil {
		snap.TotalEvents = p.Behavior.TotalEvents
		snap.EventTypes = make(map[string]int, len(p.Behavior.EventTypeCounts))
		for t, n := range p.Behavior.EventTypeCounts {
			snap.EventTypes[string(t)] = n
		}
		for ip := range p.Behavior.IPAddresses {
			snap.KnownIPs = append(snap.KnownIPs, ip)
		}
	}
	if p.Geo != nil {
		for _, v := range p.Geo.Locations {
			snap.KnownLocations = append(snap.KnownLocations, v.Location)
		}
	}
	if p.Financial != nil {
		snap.Transactions = p.Financial.TransactionCount
		snap.AvgAmount = p.Financial.AverageAmount()
		snap.MaxAmount = p.Financial.MaxAmount
	}
	return snap
}
