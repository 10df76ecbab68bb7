package pjm

import (
	"sort"
	"time"
)

// AggregateFiveMin derives provisional hourly values from raw 5-minute
// readings. For each target bucket whose hour has fully elapsed at `now`,
// readings inside [bucket, bucket+1h) are grouped by pnode and each numeric
// field is averaged. A (pnode, bucket) pair with zero readings yields no
// candidate: absence of input data must not manufacture a price.
func AggregateFiveMin(targetBuckets []time.Time, records []FiveMinRecord, now time.Time) []HourlyRecord {
	if len(targetBuckets) == 0 || len(records) == 0 {
		return nil
	}

	eligible := make(map[time.Time]bool, len(targetBuckets))
	for _, b := range targetBuckets {
		if !b.Add(time.Hour).After(now) {
			eligible[HourFloor(b)] = true
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	type key struct {
		bucket  time.Time
		pnodeID int64
	}
	type acc struct {
		name       string
		total      float64
		congestion float64
		loss       float64
		n          int
	}

	groups := make(map[key]*acc)
	for _, r := range records {
		bucket := HourFloor(r.Timestamp)
		if !eligible[bucket] {
			continue
		}
		k := key{bucket: bucket, pnodeID: r.PnodeID}
		a, ok := groups[k]
		if !ok {
			a = &acc{}
			groups[k] = a
		}
		if r.PnodeName != "" {
			a.name = r.PnodeName
		}
		a.total += r.TotalLMP
		a.congestion += r.CongestionPrice
		a.loss += r.MarginalLossPrice
		a.n++
	}

	candidates := make([]HourlyRecord, 0, len(groups))
	for k, a := range groups {
		n := float64(a.n)
		candidates = append(candidates, HourlyRecord{
			Bucket:            k.bucket,
			PnodeID:           k.pnodeID,
			PnodeName:         a.name,
			TotalLMP:          a.total / n,
			CongestionPrice:   a.congestion / n,
			MarginalLossPrice: a.loss / n,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Bucket.Equal(candidates[j].Bucket) {
			return candidates[i].Bucket.Before(candidates[j].Bucket)
		}
		return candidates[i].PnodeID < candidates[j].PnodeID
	})

	return candidates
}

// TouchedBuckets returns the distinct buckets present in a candidate set,
// ascending. Used to promote exactly the hours a write touched.
func TouchedBuckets(records []HourlyRecord) []time.Time {
	seen := make(map[time.Time]bool, len(records))
	var buckets []time.Time
	for _, r := range records {
		b := HourFloor(r.Bucket)
		if !seen[b] {
			seen[b] = true
			buckets = append(buckets, b)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })
	return buckets
}
