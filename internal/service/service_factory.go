package service

import (
	"security-monitor/internal/behavior"
	"security-monitor/internal/config"
	"security-monitor/internal/detector"
	"security-monitor/internal/monitor"
	"security-monitor/internal/notify"
	"security-monitor/internal/profile"
)

// ServiceFactory assembles the detection pipeline from its dependencies
// and hands out singleton instances.
type ServiceFactory struct {
	cfg      config.DetectionConfig
	store    EventStore
	alerts   monitor.AlertStore
	mirror   SuspiciousIPMirror
	notifier notify.Notifier
	resolver detector.GeoResolver

	profiles *profile.Store
	monitor  *monitor.Monitor
	logger   *SecurityEventLogger
}

func NewServiceFactory(
	cfg config.DetectionConfig,
	store EventStore,
	alerts monitor.AlertStore,
	mirror SuspiciousIPMirror,
	notifier notify.Notifier,
	resolver detector.GeoResolver,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:      cfg,
		store:    store,
		alerts:   alerts,
		mirror:   mirror,
		notifier: notifier,
		resolver: resolver,
	}
}

// Profiles returns the shared anomaly-profile store (singleton).
func (f *ServiceFactory) Profiles() *profile.Store {
	if f.profiles == nil {
		f.profiles = profile.NewStore()
	}
	return f.profiles
}

// Monitor returns the real-time monitor with all detectors wired
// (singleton). The sweeper is not started here; the caller owns that.
func (f *ServiceFactory) Monitor() *monitor.Monitor {
	if f.monitor == nil {
		profiles := f.Profiles()
		f.monitor = monitor.NewMonitor(f.cfg, monitor.Detectors{
			UserBehavior: detector.NewUserBehaviorDetector(profiles),
			Financial:    detector.NewFinancialPatternDetector(profiles),
			APIUsage:     detector.NewAPIUsageDetector(profiles),
			Geographic:   detector.NewGeographicDetector(profiles, f.resolver, f.cfg.MaxTravelSpeedKmH),
			Temporal:     detector.NewTemporalDetector(profiles),
		}, f.alerts, f.notifier)
	}
	return f.monitor
}

// EventLogger returns the ingestion service (singleton).
func (f *ServiceFactory) EventLogger() *SecurityEventLogger {
	if f.logger == nil {
		f.logger = NewSecurityEventLogger(
			f.cfg,
			behavior.NewDetector(behaviorThresholds(f.cfg)),
			f.Monitor(),
			f.store,
			f.mirror,
			f.Profiles(),
		)
	}
	return f.logger
}

// behaviorThresholds maps the Detection config section onto the behavior
// detector's rule table.
func behaviorThresholds(cfg config.DetectionConfig) behavior.Thresholds {
	return behavior.Thresholds{
		NightStartHour:           cfg.NightStartHour,
		NightEndHour:             cfg.NightEndHour,
		MaxDailyFinancialAccess:  cfg.MaxDailyFinancialAccess,
		MaxFinancialAccessIPs:    cfg.MaxFinancialAccessIPs,
		MaxConcurrentSessions:    cfg.MaxConcurrentSessions,
		MaxDailyTransactions:     cfg.MaxDailyTransactions,
		MaxTransactionAmount:     cfg.MaxTransactionAmount,
		RapidPaymentCount:        cfg.RapidPaymentCount,
		RapidPaymentWindow:       cfg.RapidPaymentWindow,
		MaxDailyAdminActions:     cfg.MaxDailyAdminActions,
		MaxDailyConfigChanges:    cfg.MaxDailyConfigChanges,
		MaxDailyPolicyViolations: cfg.MaxDailyPolicyViolations,
	}
}

// Cleanup stops background workers.
func (f *ServiceFactory) Cleanup() {
	if f.monitor != nil {
		f.monitor.Stop()
	}
}
