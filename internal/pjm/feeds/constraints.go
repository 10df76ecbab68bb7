package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// FetchConstraints pulls binding-constraint events for [start, end]. The feed
// is not filterable per node; overlapping windows return duplicate events,
// which the store drops on insert.
func (c *Client) FetchConstraints(ctx context.Context, start, end time.Time) ([]pjm.ConstraintRecord, error) {
	params := url.Values{}
	params.Set("datetime_beginning_ept", start.Format(timeLayoutT))
	params.Set("datetime_ending_ept", end.Format(timeLayoutT))

	items, err := c.getItems(ctx, "rt_marginal_value", params)
	if err != nil {
		return nil, err
	}

	records := make([]pjm.ConstraintRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			Datetime            string  `json:"datetime_beginning_ept"`
			MonitoredFacility   string  `json:"monitored_facility"`
			ContingencyFacility string  `json:"contingency_facility"`
			PenaltyFactor       float64 `json:"transmission_constraint_penalty_factor"`
			LimitControlPct     float64 `json:"limit_control_percentage"`
			ShadowPrice         float64 `json:"shadow_price"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: rt_marginal_value: %v", pjm.ErrMalformedResponse, err)
		}
		ts, err := parseFeedTime(item.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: rt_marginal_value: %v", pjm.ErrMalformedResponse, err)
		}
		records = append(records, pjm.ConstraintRecord{
			Bucket:              ts,
			MonitoredFacility:   item.MonitoredFacility,
			ContingencyFacility: item.ContingencyFacility,
			PenaltyFactor:       item.PenaltyFactor,
			LimitControlPct:     item.LimitControlPct,
			ShadowPrice:         item.ShadowPrice,
		})
	}
	return records, nil
}
