package feeds

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// FetchDayAhead pulls day-ahead hourly LMPs for one pricing node in
// [start, end]. Day-ahead prices are final at publication, so the feed has no
// freshness semantics of its own; it is a tracked table for catch-up only.
func (c *Client) FetchDayAhead(ctx context.Context, pnodeID int64, start, end time.Time) ([]pjm.HourlyRecord, error) {
	params := url.Values{}
	params.Set("order", "Asc")
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("pnode_id", strconv.FormatInt(pnodeID, 10))
	params.Set("fields", "datetime_beginning_ept,pnode_id,pnode_name,total_lmp_da,congestion_price_da,marginal_loss_price_da")

	items, err := c.getItems(ctx, "da_hrl_lmps", params)
	if err != nil {
		return nil, err
	}
	return decodeHourly(items, "da_hrl_lmps", "total_lmp_da", "congestion_price_da", "marginal_loss_price_da")
}
