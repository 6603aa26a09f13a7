// Package campaign holds the contribution campaign window and the ticket
// expiration constants shared by all grant policies.
package campaign

import (
	"fmt"
	"time"

	"github.com/divetrail/concierge/internal/config"
	"go.uber.org/fx"
)

const dayLayout = "2006-01-02"

// Window describes when contribution grants also accumulate per-category
// counters, plus the expiration applied to each grant type. The window and the
// daily-grant day key are both evaluated in the reference timezone.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location

	DailyExpiration        time.Duration
	ContributionExpiration time.Duration
}

// FromConfig parses the configured campaign window.
func FromConfig(cfg config.Config) (Window, error) {
	loc, err := time.LoadLocation(cfg.Campaign.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("invalid campaign timezone %q: %w", cfg.Campaign.Timezone, err)
	}

	start, err := time.ParseInLocation(dayLayout, cfg.Campaign.Start, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid campaign start %q: %w", cfg.Campaign.Start, err)
	}
	end, err := time.ParseInLocation(dayLayout, cfg.Campaign.End, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid campaign end %q: %w", cfg.Campaign.End, err)
	}
	// End date is inclusive.
	end = end.AddDate(0, 0, 1)

	return Window{
		Start:                  start,
		End:                    end,
		Location:               loc,
		DailyExpiration:        time.Duration(cfg.Campaign.DailyExpirationDays) * 24 * time.Hour,
		ContributionExpiration: time.Duration(cfg.Campaign.ContributionExpirationDays) * 24 * time.Hour,
	}, nil
}

// IsOpen reports whether the campaign window contains the given instant.
func (w Window) IsOpen(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// DayKey returns the calendar-day key (YYYY-MM-DD) for the daily grant,
// computed in the reference timezone so the day rolls over consistently for
// every device.
func (w Window) DayKey(now time.Time) string {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(dayLayout)
}

// Module provides the campaign window from configuration.
var Module = fx.Module("campaign",
	fx.Provide(FromConfig),
)
