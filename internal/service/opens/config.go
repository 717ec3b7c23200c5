package opens

import "time"

// Defaults for Config.
const (
	DefaultMinOpenDelay     = 5 * time.Second
	DefaultHotThreshold     = 3
	DefaultHotWindow        = 24 * time.Hour
	DefaultRevivedAfterDays = 14
	DefaultFollowupDays     = 3
)

// Config holds the thresholds of the recorder and trigger engine. Zero fields
// take the defaults above.
type Config struct {
	// MinOpenDelay suppresses fetches this soon after the message was created;
	// they come from the sender's own client loading the pixel while sending.
	MinOpenDelay time.Duration

	HotThreshold     int
	HotWindow        time.Duration
	RevivedAfterDays int
	FollowupDays     int
}

func (c Config) withDefaults() Config {
	if c.MinOpenDelay <= 0 {
		c.MinOpenDelay = DefaultMinOpenDelay
	}
	if c.HotThreshold <= 0 {
		c.HotThreshold = DefaultHotThreshold
	}
	if c.HotWindow <= 0 {
		c.HotWindow = DefaultHotWindow
	}
	if c.RevivedAfterDays <= 0 {
		c.RevivedAfterDays = DefaultRevivedAfterDays
	}
	if c.FollowupDays <= 0 {
		c.FollowupDays = DefaultFollowupDays
	}
	return c
}
