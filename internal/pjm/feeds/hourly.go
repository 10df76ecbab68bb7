package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// FetchVerifiedHourly pulls the officially verified hourly real-time LMP feed
// for [start, end] across all nodes. The window is typically a trailing few
// days chosen to exceed the upstream's worst-case publication delay; the
// caller restricts results to tracked nodes before storing.
func (c *Client) FetchVerifiedHourly(ctx context.Context, start, end time.Time) ([]pjm.HourlyRecord, error) {
	params := url.Values{}
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("fields", "datetime_beginning_ept,pnode_id,pnode_name,total_lmp_rt,congestion_price_rt,marginal_loss_price_rt")

	items, err := c.getItems(ctx, "rt_hrl_lmps", params)
	if err != nil {
		return nil, err
	}
	return decodeHourly(items, "rt_hrl_lmps", "total_lmp_rt", "congestion_price_rt", "marginal_loss_price_rt")
}

func decodeHourly(items []json.RawMessage, endpoint, totalField, congField, lossField string) ([]pjm.HourlyRecord, error) {
	records := make([]pjm.HourlyRecord, 0, len(items))
	for _, raw := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", pjm.ErrMalformedResponse, endpoint, err)
		}

		var dt string
		if err := json.Unmarshal(fields["datetime_beginning_ept"], &dt); err != nil {
			return nil, fmt.Errorf("%w: %s: bad datetime_beginning_ept", pjm.ErrMalformedResponse, endpoint)
		}
		ts, err := parseFeedTime(dt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", pjm.ErrMalformedResponse, endpoint, err)
		}

		rec := pjm.HourlyRecord{Bucket: pjm.HourFloor(ts)}
		if err := json.Unmarshal(fields["pnode_id"], &rec.PnodeID); err != nil {
			return nil, fmt.Errorf("%w: %s: bad pnode_id", pjm.ErrMalformedResponse, endpoint)
		}
		if raw, ok := fields["pnode_name"]; ok {
			_ = json.Unmarshal(raw, &rec.PnodeName)
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{totalField, &rec.TotalLMP},
			{congField, &rec.CongestionPrice},
			{lossField, &rec.MarginalLossPrice},
		} {
			if raw, ok := fields[f.name]; ok {
				if err := json.Unmarshal(raw, f.dst); err != nil {
					return nil, fmt.Errorf("%w: %s: bad %s", pjm.ErrMalformedResponse, endpoint, f.name)
				}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
