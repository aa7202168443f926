package points

import (
	"fmt"
	"time"

	"github.com/1hive/gardens-points/env"
)

// maxCampaignTimestamp is January 1, 2039, the open-ended campaign sentinel.
const maxCampaignTimestamp = 2177452800

// Campaign is the accrual window. The version string keys every pinned cache
// so a rescheduled campaign invalidates derived state instead of reusing it.
type Campaign struct {
	StartMS int64
	EndMS   int64
}

func LoadCampaign() Campaign {
	start := env.GetInt64("SUPERFLUID_CAMPAIGN_START_TIMESTAMP")
	end := env.GetInt64("SUPERFLUID_CAMPAIGN_END_TIMESTAMP")
	if end == 0 {
		end = maxCampaignTimestamp
	}
	return Campaign{StartMS: start * 1000, EndMS: end * 1000}
}

func (c Campaign) Version() string {
	return fmt.Sprintf("%d-%d", c.StartMS, c.EndMS)
}

func (c Campaign) StartSec() int64 { return c.StartMS / 1000 }
func (c Campaign) EndSec() int64   { return c.EndMS / 1000 }

func (c Campaign) Ended(now time.Time) bool {
	return now.UnixMilli() > c.EndMS
}

// CampaignWindow is the window echoed in the response payload.
type CampaignWindow struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	StartISO string `json:"startIso"`
	EndISO   string `json:"endIso"`
}

func (c Campaign) Window() CampaignWindow {
	return CampaignWindow{
		Start:    c.StartSec(),
		End:      c.EndSec(),
		StartISO: time.UnixMilli(c.StartMS).UTC().Format(time.RFC3339),
		EndISO:   time.UnixMilli(c.EndMS).UTC().Format(time.RFC3339),
	}
}
