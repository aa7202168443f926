package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

const (
	batchSize    = 50
	initialDelay = 350 * time.Millisecond
	maxDelay     = 10 * time.Second
	minDelay     = 200 * time.Millisecond
)

// Checksum is the change marker stored on each row so unchanged wallets can
// be skipped without a property-by-property diff.
func Checksum(b persist.WalletBreakdown) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d|%d",
		b.Address, b.FundPoints, b.StreamPoints, b.GovernancePoints, b.FarcasterPoints, b.TotalPoints)
}

// SyncResult summarizes one leaderboard sync.
type SyncResult struct {
	Attempted bool `json:"attempted"`
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Archived  int  `json:"archived"`
}

type existingPage struct {
	pageID   string
	checksum string
	archived bool
}

// Sync upserts every breakdown row and archives rows whose wallets dropped
// off the board. Batches slow down on failures and speed back up on success.
func (c *Client) Sync(ctx context.Context, breakdowns []persist.WalletBreakdown) SyncResult {
	res := SyncResult{}
	if !c.Enabled() {
		logger.For(ctx).Info("skipping notion sync: not configured")
		return res
	}
	res.Attempted = true

	if err := c.ensureChecksumProperty(ctx); err != nil {
		logger.For(ctx).Errorf("notion checksum property missing and could not be created: %s", err)
		res.Failed = len(breakdowns)
		return res
	}

	existing := c.fetchExistingPages(ctx)

	delay := initialDelay
	seen := map[persist.Address]bool{}
	for i := 0; i < len(breakdowns); i += batchSize {
		end := i + batchSize
		if end > len(breakdowns) {
			end = len(breakdowns)
		}
		batchFailed := false
		for _, b := range breakdowns[i:end] {
			seen[b.Address] = true
			if err := c.upsertWallet(ctx, b, existing); err != nil {
				logger.For(ctx).Errorf("notion upsert failed for %s: %s", b.Address, err)
				res.Failed++
				batchFailed = true
			}
			res.Processed++
			if !c.Enabled() {
				res.Failed += len(breakdowns) - res.Processed
				res.Success = false
				return res
			}
		}
		if batchFailed {
			delay = minDuration(maxDelay, delay*2)
		} else {
			delay = maxDuration(minDelay, delay*85/100)
		}
		if end < len(breakdowns) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				res.Failed += len(breakdowns) - res.Processed
				return res
			}
		}
	}

	for wallet, page := range existing {
		if seen[wallet] {
			continue
		}
		if err := c.updatePage(ctx, page.pageID, map[string]any{"archived": true}); err != nil {
			logger.For(ctx).Errorf("notion archive failed for %s: %s", wallet, err)
			res.Failed++
			continue
		}
		res.Archived++
	}

	res.Success = res.Failed == 0
	return res
}

// fetchExistingPages pulls the whole database once so per-wallet upserts can
// skip lookups and unchanged rows.
func (c *Client) fetchExistingPages(ctx context.Context) map[persist.Address]existingPage {
	out := map[persist.Address]existingPage{}
	cursor := ""
	for {
		body := map[string]any{"page_size": batchSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		resp, err := c.query(ctx, body)
		if err != nil {
			logger.For(ctx).Errorf("failed to read notion database: %s", err)
			return out
		}
		for _, page := range resp.Results {
			if len(page.Properties.Wallet.Title) == 0 {
				continue
			}
			wallet := persist.NewAddress(page.Properties.Wallet.Title[0].PlainText)
			entry := existingPage{pageID: page.ID, archived: page.Archived}
			if len(page.Properties.Checksum.RichText) > 0 {
				entry.checksum = page.Properties.Checksum.RichText[0].PlainText
			}
			out[wallet] = entry
		}
		if !resp.HasMore || resp.NextCursor == "" {
			logger.For(ctx).Infof("notion existing pages fetched: %d", len(out))
			return out
		}
		cursor = resp.NextCursor
	}
}

func (c *Client) upsertWallet(ctx context.Context, b persist.WalletBreakdown, existing map[persist.Address]existingPage) error {
	checksum := Checksum(b)
	props := walletProperties(b, checksum)

	page, ok := existing[b.Address]
	if !ok {
		return c.createPage(ctx, props)
	}
	if page.checksum == checksum && !page.archived {
		return nil
	}
	if page.archived {
		if err := c.updatePage(ctx, page.pageID, map[string]any{"archived": false}); err != nil {
			logger.For(ctx).Warnf("failed to unarchive notion page for %s: %s", b.Address, err)
		}
	}
	return c.updatePage(ctx, page.pageID, map[string]any{"properties": props})
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
