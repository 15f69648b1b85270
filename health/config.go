package health

import "time"

// Config configures a Monitor.
type Config struct {
	// ShortWindow, MediumWindow and LongWindow are the rolling snapshot windows.
	ShortWindow  time.Duration `yaml:"short_window" mapstructure:"short_window" validate:"gt=0"`
	MediumWindow time.Duration `yaml:"medium_window" mapstructure:"medium_window" validate:"gtfield=ShortWindow"`
	LongWindow   time.Duration `yaml:"long_window" mapstructure:"long_window" validate:"gtfield=MediumWindow"`
	// SnapshotInterval is how often snapshots are taken.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" mapstructure:"snapshot_interval" validate:"gt=0"`

	// ResponseTimeThreshold marks a single response as slow.
	ResponseTimeThreshold time.Duration `yaml:"response_time_threshold" mapstructure:"response_time_threshold" validate:"gt=0"`
	// SuccessRateThreshold is the minimum healthy success rate in the short window.
	SuccessRateThreshold float64 `yaml:"success_rate_threshold" mapstructure:"success_rate_threshold" validate:"gte=0,lte=1"`
	// ErrorRateThreshold is the maximum healthy error rate in the short window.
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold" validate:"gte=0,lte=1"`
	// MinRequests is the short-window sample size below which rate alerts are skipped.
	MinRequests int `yaml:"min_requests" mapstructure:"min_requests" validate:"gte=0"`
	// ErrorBurstCount failures within ErrorBurstWindow raise an error-burst alert.
	ErrorBurstCount  int           `yaml:"error_burst_count" mapstructure:"error_burst_count" validate:"gt=0"`
	ErrorBurstWindow time.Duration `yaml:"error_burst_window" mapstructure:"error_burst_window" validate:"gt=0"`

	// TrendSamples is the number of recent snapshots the regression runs over.
	TrendSamples int `yaml:"trend_samples" mapstructure:"trend_samples" validate:"gte=2"`
	// TrendSensitivity is the relative slope per snapshot that counts as a trend.
	TrendSensitivity float64 `yaml:"trend_sensitivity" mapstructure:"trend_sensitivity" validate:"gt=0"`
	// AnomalyThreshold is the |z-score| that counts as an anomaly.
	AnomalyThreshold float64 `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold" validate:"gt=0"`
	// AnomalyMinSamples is the number of earlier snapshots needed before z-scores are trusted.
	AnomalyMinSamples int `yaml:"anomaly_min_samples" mapstructure:"anomaly_min_samples" validate:"gte=2"`
	// AnomalyWindow is how many recent non-empty snapshots form the z-score baseline.
	AnomalyWindow int `yaml:"anomaly_window" mapstructure:"anomaly_window" validate:"gte=2"`

	// AlertCooldown suppresses repeats of the same (severity, type).
	AlertCooldown time.Duration `yaml:"alert_cooldown" mapstructure:"alert_cooldown" validate:"gte=0"`
	// MaxAlerts bounds the alert history.
	MaxAlerts int `yaml:"max_alerts" mapstructure:"max_alerts" validate:"gt=0"`
	// MaxSnapshots bounds the snapshot history of each window.
	MaxSnapshots int `yaml:"max_snapshots" mapstructure:"max_snapshots" validate:"gt=0"`
	// MaxRecords bounds the number of finished requests kept.
	MaxRecords int `yaml:"max_records" mapstructure:"max_records" validate:"gt=0"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShortWindow:           5 * time.Minute,
		MediumWindow:          15 * time.Minute,
		LongWindow:            time.Hour,
		SnapshotInterval:      time.Minute,
		ResponseTimeThreshold: 2 * time.Second,
		SuccessRateThreshold:  0.95,
		ErrorRateThreshold:    0.05,
		MinRequests:           10,
		ErrorBurstCount:       5,
		ErrorBurstWindow:      30 * time.Second,
		TrendSamples:          5,
		TrendSensitivity:      0.1,
		AnomalyThreshold:      3,
		AnomalyMinSamples:     5,
		AnomalyWindow:         20,
		AlertCooldown:         5 * time.Minute,
		MaxAlerts:             100,
		MaxSnapshots:          120,
		MaxRecords:            10000,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ShortWindow <= 0 {
		c.ShortWindow = d.ShortWindow
	}
	if c.MediumWindow <= 0 {
		c.MediumWindow = d.MediumWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = d.LongWindow
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.ResponseTimeThreshold <= 0 {
		c.ResponseTimeThreshold = d.ResponseTimeThreshold
	}
	if c.SuccessRateThreshold <= 0 {
		c.SuccessRateThreshold = d.SuccessRateThreshold
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = d.ErrorRateThreshold
	}
	if c.MinRequests < 0 {
		c.MinRequests = 0
	}
	if c.ErrorBurstCount <= 0 {
		c.ErrorBurstCount = d.ErrorBurstCount
	}
	if c.ErrorBurstWindow <= 0 {
		c.ErrorBurstWindow = d.ErrorBurstWindow
	}
	if c.TrendSamples < 2 {
		c.TrendSamples = d.TrendSamples
	}
	if c.TrendSensitivity <= 0 {
		c.TrendSensitivity = d.TrendSensitivity
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = d.AnomalyThreshold
	}
	if c.AnomalyMinSamples < 2 {
		c.AnomalyMinSamples = d.AnomalyMinSamples
	}
	if c.AnomalyWindow < 2 {
		c.AnomalyWindow = d.AnomalyWindow
	}
	if c.AnomalyWindow < c.AnomalyMinSamples {
		c.AnomalyWindow = c.AnomalyMinSamples
	}
	if c.AlertCooldown < 0 {
		c.AlertCooldown = 0
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = d.MaxAlerts
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = d.MaxSnapshots
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = d.MaxRecords
	}
}
