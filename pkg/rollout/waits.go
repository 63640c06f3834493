package rollout

import "time"

// WaitConfig defines the poll interval and upper bound for each blocking
// stage of the pipeline. A zero timeout waits without bound.
type WaitConfig struct {
	// Drain: fleet manager reports the node in maintenance.
	DrainInterval time.Duration `yaml:"drain_interval"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`

	// Power off: hardware manager reports the endpoint powered off.
	PowerOffInterval time.Duration `yaml:"power_off_interval"`
	PowerOffTimeout  time.Duration `yaml:"power_off_timeout"`

	// Association: hardware manager reports the profile associated again
	// after the firmware policy change.
	AssociateInterval time.Duration `yaml:"associate_interval"`
	AssociateTimeout  time.Duration `yaml:"associate_timeout"`

	// Reconnect: fleet manager reports the rebooted node back, and then
	// connected after leaving maintenance.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReconnectTimeout  time.Duration `yaml:"reconnect_timeout"`
}

// DefaultWaitConfig returns the default wait tuning.
func DefaultWaitConfig() *WaitConfig {
	return &WaitConfig{
		DrainInterval:     10 * time.Second,
		DrainTimeout:      1 * time.Hour,
		PowerOffInterval:  40 * time.Second,
		PowerOffTimeout:   30 * time.Minute,
		AssociateInterval: 60 * time.Second,
		AssociateTimeout:  2 * time.Hour,
		ReconnectInterval: 10 * time.Second,
		ReconnectTimeout:  30 * time.Minute,
	}
}
