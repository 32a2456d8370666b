package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names of the freelancer earnings CSV.
const (
	ColCategory       = "Job_Category"
	ColRegion         = "Client_Region"
	ColExperience     = "Experience_Level"
	ColPlatform       = "Platform"
	ColProjectType    = "Project_Type"
	ColPaymentMethod  = "Payment_Method"
	ColEarnings       = "Earnings_USD"
	ColJobsCompleted  = "Job_Completed"
	ColRehireRate     = "Rehire_Rate"
	ColMarketingSpend = "Marketing_Spend"
	ColHourlyRate     = "Hourly_Rate"
	ColSuccessRate    = "Job_Success_Rate"
	ColClientRating   = "Client_Rating"
	ColDurationDays   = "Job_Duration_Days"
)

// LoadFile reads the dataset at path.
func LoadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()
	rows, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return rows, nil
}

// Load parses CSV with a header row. Unparseable core numeric fields become 0,
// unparseable optional fields become invalid Numbers and empty categorical fields
// become Unknown.
func Load(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(rows)+1, err)
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		rows = append(rows, Row{
			Category:       categorical(get(ColCategory)),
			Region:         categorical(get(ColRegion)),
			Experience:     categorical(get(ColExperience)),
			Platform:       categorical(get(ColPlatform)),
			ProjectType:    categorical(get(ColProjectType)),
			PaymentMethod:  categorical(get(ColPaymentMethod)),
			Earnings:       numberOrZero(get(ColEarnings)),
			JobsCompleted:  numberOrZero(get(ColJobsCompleted)),
			RehireRate:     numberOrZero(get(ColRehireRate)),
			MarketingSpend: numberOrZero(get(ColMarketingSpend)),
			HourlyRate:     optional(get(ColHourlyRate)),
			SuccessRate:    optional(get(ColSuccessRate)),
			ClientRating:   optional(get(ColClientRating)),
			DurationDays:   optional(get(ColDurationDays)),
		})
	}
	return rows, nil
}

func categorical(v string) string {
	if v == "" {
		return Unknown
	}
	return v
}

func numberOrZero(v string) float64 {
	n, ok := parseFinite(v)
	if !ok {
		return 0
	}
	return n
}

func optional(v string) Number {
	n, ok := parseFinite(v)
	if !ok {
		return Number{}
	}
	return Num(n)
}

// parseFinite rejects NaN and infinities, which ParseFloat accepts.
func parseFinite(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
