package dataset

import (
	"fmt"
	"strings"
)

// Unknown is the value reported for a missing categorical field.
const Unknown = "Unknown"

// GroupKey names the categorical field a grouped aggregation buckets by.
type GroupKey string

const (
	GroupCategory    GroupKey = "category"
	GroupRegion      GroupKey = "region"
	GroupExperience  GroupKey = "experience"
	GroupPlatform    GroupKey = "platform"
	GroupProjectType GroupKey = "project_type"
)

// GroupKeys lists every supported grouping key in declaration order.
var GroupKeys = []GroupKey{GroupCategory, GroupRegion, GroupExperience, GroupPlatform, GroupProjectType}

// ParseGroupKey converts raw input into a GroupKey.
func ParseGroupKey(raw string) (GroupKey, error) {
	key := GroupKey(strings.TrimSpace(raw))
	for _, k := range GroupKeys {
		if k == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported group key: %q", raw)
}

// Number is an optional numeric field. Aggregations skip values that are not Valid.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// Row is one freelancer record. Rows are never mutated after loading.
type Row struct {
	Category      string
	Region        string
	Experience    string
	Platform      string
	ProjectType   string
	PaymentMethod string

	Earnings       float64
	JobsCompleted  float64
	RehireRate     float64
	MarketingSpend float64

	HourlyRate   Number
	SuccessRate  Number
	ClientRating Number
	DurationDays Number
}

// Group returns the categorical value selected by key, or Unknown when it is empty.
func (r Row) Group(key GroupKey) string {
	var v string
	switch key {
	case GroupCategory:
		v = r.Category
	case GroupRegion:
		v = r.Region
	case GroupExperience:
		v = r.Experience
	case GroupPlatform:
		v = r.Platform
	case GroupProjectType:
		v = r.ProjectType
	}
	if strings.TrimSpace(v) == "" {
		return Unknown
	}
	return v
}
