package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// FetchFiveMin pulls raw unverified 5-minute LMPs for one pricing node in
// [start, end]. Narrowing the window to a single node keeps each response
// comfortably under the row cap.
func (c *Client) FetchFiveMin(ctx context.Context, pnodeID int64, start, end time.Time) ([]pjm.FiveMinRecord, error) {
	params := url.Values{}
	params.Set("order", "Asc")
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("pnode_id", strconv.FormatInt(pnodeID, 10))
	params.Set("fields", "datetime_beginning_ept,pnode_id,pnode_name,total_lmp_rt,congestion_price_rt,marginal_loss_price_rt")

	items, err := c.getItems(ctx, "rt_unverified_fivemin_lmps", params)
	if err != nil {
		return nil, err
	}
	return decodeFiveMin(items)
}

func decodeFiveMin(items []json.RawMessage) ([]pjm.FiveMinRecord, error) {
	records := make([]pjm.FiveMinRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			Datetime          string  `json:"datetime_beginning_ept"`
			PnodeID           int64   `json:"pnode_id"`
			PnodeName         string  `json:"pnode_name"`
			TotalLMP          float64 `json:"total_lmp_rt"`
			CongestionPrice   float64 `json:"congestion_price_rt"`
			MarginalLossPrice float64 `json:"marginal_loss_price_rt"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: rt_unverified_fivemin_lmps: %v", pjm.ErrMalformedResponse, err)
		}
		ts, err := parseFeedTime(item.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: rt_unverified_fivemin_lmps: %v", pjm.ErrMalformedResponse, err)
		}
		records = append(records, pjm.FiveMinRecord{
			Timestamp:         ts,
			PnodeID:           item.PnodeID,
			PnodeName:         item.PnodeName,
			TotalLMP:          item.TotalLMP,
			CongestionPrice:   item.CongestionPrice,
			MarginalLossPrice: item.MarginalLossPrice,
		})
	}
	return records, nil
}
