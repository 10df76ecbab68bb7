package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

// FetchInstLoad pulls instantaneous system-load readings for [start, end]
// across all areas.
func (c *Client) FetchInstLoad(ctx context.Context, start, end time.Time) ([]pjm.InstLoadRecord, error) {
	params := url.Values{}
	params.Set("order", "Asc")
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("fields", "datetime_beginning_ept,area,instantaneous_load")

	items, err := c.getItems(ctx, "inst_load", params)
	if err != nil {
		return nil, err
	}

	records := make([]pjm.InstLoadRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			Datetime string  `json:"datetime_beginning_ept"`
			Area     string  `json:"area"`
			LoadMW   float64 `json:"instantaneous_load"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: inst_load: %v", pjm.ErrMalformedResponse, err)
		}
		ts, err := parseFeedTime(item.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: inst_load: %v", pjm.ErrMalformedResponse, err)
		}
		records = append(records, pjm.InstLoadRecord{Timestamp: ts, Area: item.Area, LoadMW: item.LoadMW})
	}
	return records, nil
}

// FetchMeteredLoad pulls hourly metered load for [start, end] across all
// load areas.
func (c *Client) FetchMeteredLoad(ctx context.Context, start, end time.Time) ([]pjm.MeteredLoadRecord, error) {
	params := url.Values{}
	params.Set("order", "Asc")
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("fields", "datetime_beginning_ept,zone,load_area,mw,nerc_region,mkt_region")

	items, err := c.getItems(ctx, "hrl_load_metered", params)
	if err != nil {
		return nil, err
	}

	records := make([]pjm.MeteredLoadRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			Datetime   string  `json:"datetime_beginning_ept"`
			Zone       string  `json:"zone"`
			LoadArea   string  `json:"load_area"`
			MW         float64 `json:"mw"`
			NercRegion string  `json:"nerc_region"`
			MktRegion  string  `json:"mkt_region"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: hrl_load_metered: %v", pjm.ErrMalformedResponse, err)
		}
		ts, err := parseFeedTime(item.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: hrl_load_metered: %v", pjm.ErrMalformedResponse, err)
		}
		records = append(records, pjm.MeteredLoadRecord{
			Bucket:     pjm.HourFloor(ts),
			Zone:       item.Zone,
			LoadArea:   item.LoadArea,
			MW:         item.MW,
			NercRegion: item.NercRegion,
			MktRegion:  item.MktRegion,
		})
	}
	return records, nil
}

// FetchTemperatureSets pulls day-ahead temperature sets for [start, end]. The
// set arrives as a "low-high" string; rows whose set cannot be parsed are
// skipped and logged, never fatal to the window.
func (c *Client) FetchTemperatureSets(ctx context.Context, start, end time.Time) ([]pjm.TemperatureRecord, error) {
	params := url.Values{}
	params.Set("order", "Asc")
	params.Set("datetime_beginning_ept", rangeParam(start, end))
	params.Set("fields", "datetime_beginning_ept,datetime_ending_ept,zone,da_temperature_set")

	items, err := c.getItems(ctx, "da_tempset", params)
	if err != nil {
		return nil, err
	}

	records := make([]pjm.TemperatureRecord, 0, len(items))
	for _, raw := range items {
		var item struct {
			Datetime    string `json:"datetime_beginning_ept"`
			DatetimeEnd string `json:"datetime_ending_ept"`
			Zone        string `json:"zone"`
			TempSet     string `json:"da_temperature_set"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: da_tempset: %v", pjm.ErrMalformedResponse, err)
		}
		ts, err := parseFeedTime(item.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: da_tempset: %v", pjm.ErrMalformedResponse, err)
		}
		tsEnd, err := parseFeedTime(item.DatetimeEnd)
		if err != nil {
			return nil, fmt.Errorf("%w: da_tempset: %v", pjm.ErrMalformedResponse, err)
		}
		set, err := strconv.Atoi(strings.SplitN(item.TempSet, "-", 2)[0])
		if err != nil {
			c.log.Warn().Str("zone", item.Zone).Str("set", item.TempSet).
				Msg("unparseable temperature set, skipping row")
			continue
		}
		records = append(records, pjm.TemperatureRecord{
			Bucket:    ts,
			BucketEnd: tsEnd,
			Zone:      item.Zone,
			TempSet:   set,
		})
	}
	return records, nil
}
