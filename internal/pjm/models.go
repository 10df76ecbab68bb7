package pjm

import (
	"time"
)

// BucketStatus represents the freshness state of one hourly bucket.
type BucketStatus string

const (
	StatusMissing    BucketStatus = "missing"
	StatusUnverified BucketStatus = "unverified"
	StatusVerified   BucketStatus = "verified"
)

// Char returns the single-character form used in the status table.
func (s BucketStatus) Char() string {
	switch s {
	case StatusUnverified:
		return "u"
	case StatusVerified:
		return "v"
	default:
		return "m"
	}
}

// StatusFromChar maps the stored single-character form back to a BucketStatus.
// Unknown characters are treated as missing.
func StatusFromChar(c string) BucketStatus {
	switch c {
	case "u":
		return StatusUnverified
	case "v":
		return StatusVerified
	default:
		return StatusMissing
	}
}

// CanTransition reports whether a bucket may move from one status to another.
// Verified is terminal: a verified bucket never drops back to a lower state.
// Every other transition is allowed, including re-asserting the same state.
func CanTransition(from, to BucketStatus) bool {
	if from == StatusVerified {
		return to == StatusVerified
	}
	return true
}

// HourFloor truncates t to the beginning of its hour, the canonical
// TimeBucket identity. Upstream publishes "beginning" timestamps without a
// zone, so all buckets live in UTC wall-clock time.
func HourFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// DayFloor truncates t to midnight of its day.
func DayFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBuckets returns the 24 hour-aligned buckets of the day containing t.
func DayBuckets(t time.Time) []time.Time {
	start := DayFloor(t)
	buckets := make([]time.Time, 0, 24)
	for i := 0; i < 24; i++ {
		buckets = append(buckets, start.Add(time.Duration(i)*time.Hour))
	}
	return buckets
}

// FiveMinRecord is one raw 5-minute reading for a pricing node. Its presence
// alone never changes a bucket's status; it is input to aggregation.
type FiveMinRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	PnodeID           int64     `json:"pnodeId"`
	PnodeName         string    `json:"pnodeName,omitempty"`
	TotalLMP          float64   `json:"totalLmp"`
	CongestionPrice   float64   `json:"congestionPrice"`
	MarginalLossPrice float64   `json:"marginalLossPrice"`
}

// HourlyRecord is one hourly LMP value per (pnode, bucket). The value on disk
// reflects the last writer; the bucket's status records which writer class
// produced it.
type HourlyRecord struct {
	Bucket            time.Time `json:"bucket"`
	PnodeID           int64     `json:"pnodeId"`
	PnodeName         string    `json:"pnodeName,omitempty"`
	TotalLMP          float64   `json:"totalLmp"`
	CongestionPrice   float64   `json:"congestionPrice"`
	MarginalLossPrice float64   `json:"marginalLossPrice"`
}

// ConstraintRecord is one binding-constraint event from the constraints feed.
// Events are append-only; duplicates from overlapping fetch windows must be
// dropped by insert-if-absent semantics, not raised as errors.
type ConstraintRecord struct {
	Bucket              time.Time `json:"bucket"`
	MonitoredFacility   string    `json:"monitoredFacility"`
	ContingencyFacility string    `json:"contingencyFacility"`
	PenaltyFactor       float64   `json:"penaltyFactor"`
	LimitControlPct     float64   `json:"limitControlPct"`
	ShadowPrice         float64   `json:"shadowPrice"`
}

// BucketState pairs a bucket with its current ledger status, as read back
// from the store for query consumers.
type BucketState struct {
	Bucket time.Time    `json:"bucket"`
	Status BucketStatus `json:"status"`
}

// InstLoadRecord is one instantaneous system-load reading per area.
type InstLoadRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Area      string    `json:"area"`
	LoadMW    float64   `json:"loadMw"`
}

// MeteredLoadRecord is one hourly metered-load value per load area.
type MeteredLoadRecord struct {
	Bucket     time.Time `json:"bucket"`
	Zone       string    `json:"zone"`
	LoadArea   string    `json:"loadArea"`
	MW         float64   `json:"mw"`
	NercRegion string    `json:"nercRegion,omitempty"`
	MktRegion  string    `json:"mktRegion,omitempty"`
}

// TemperatureRecord is one day-ahead temperature-set value per zone. The
// upstream publishes the set as a "low-high" string; only the leading bound
// is stored.
type TemperatureRecord struct {
	Bucket    time.Time `json:"bucket"`
	BucketEnd time.Time `json:"bucketEnd"`
	Zone      string    `json:"zone"`
	TempSet   int       `json:"tempSet"`
}
