package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
)

const (
	paymentCrypto     = "Crypto"
	experienceExpert  = "Expert"
	expertProjectsCap = 100
	highRehireRate    = 50.0
	topRegions        = 5
)

func builtinMethods() []Method {
	return []Method{
		{Name: "crypto_vs_other_income", Description: "How much more freelancers paid in cryptocurrency earn compared to other payment methods.", Func: cryptoVsOtherIncome},
		{Name: "income_by_region", Description: "How freelancer income is distributed across client regions.", Func: incomeByRegion},
		{Name: "percent_experts_lt_100_projects", Description: "Percentage of self-declared experts who completed fewer than 100 projects.", Func: percentExpertsLT100Projects},
		{Name: "avg_income_by_category", Description: "Average income per job category.", Func: avgIncome(dataset.GroupCategory, "Average income by job category:")},
		{Name: "avg_income_by_experience", Description: "Average income per experience level.", Func: avgIncome(dataset.GroupExperience, "Average income by experience level:")},
		{Name: "top5_regions_by_experts", Description: "Top 5 regions by number of experts.", Func: top5RegionsByExperts},
		{Name: "percent_high_rehire", Description: "Percentage of freelancers with a rehire rate above 50%.", Func: percentHighRehire},
		{Name: "avg_job_duration_all", Description: "Average job duration across all freelancers.", Func: avgJobDurationAll},
		{Name: "avg_job_duration_by_category", Description: "Average job duration per job category.", Func: avgJobDuration(dataset.GroupCategory, "Average job duration by category:")},
		{Name: "avg_job_duration_by_region", Description: "Average job duration per client region.", Func: avgJobDuration(dataset.GroupRegion, "Average job duration by region:")},
		{Name: "avg_job_duration_by_experience", Description: "Average job duration per experience level.", Func: avgJobDuration(dataset.GroupExperience, "Average job duration by experience level:")},
		{Name: "avg_job_duration_by_platform", Description: "Average job duration per platform.", Func: avgJobDuration(dataset.GroupPlatform, "Average job duration by platform:")},
		{Name: "avg_job_duration_by_project_type", Description: "Average job duration per project type.", Func: avgJobDuration(dataset.GroupProjectType, "Average job duration by project type:")},
		{Name: "avg_income_by_platform", Description: "Average income per platform.", Func: avgIncome(dataset.GroupPlatform, "Average income by platform:")},
		{Name: "avg_income_by_project_type", Description: "Average income per project type.", Func: avgIncome(dataset.GroupProjectType, "Average income by project type:")},
		{Name: "avg_hourly_rate_by", Description: "Average hourly rate grouped by the selected field.", Grouped: true, Func: avgBy("Average hourly rate by %s:", "%.2f USD/h", hourlyRate)},
		{Name: "avg_success_rate_by", Description: "Average job success rate grouped by the selected field.", Grouped: true, Func: avgBy("Average job success rate by %s:", "%.1f%%", successRate)},
		{Name: "avg_client_rating_by", Description: "Average client rating grouped by the selected field.", Grouped: true, Func: avgBy("Average client rating by %s:", "%.2f", clientRating)},
		{Name: "avg_marketing_spend_by", Description: "Average marketing spend grouped by the selected field.", Grouped: true, Func: avgBy("Average marketing spend by %s:", "%.2f USD", marketingSpend)},
	}
}

// groups accumulates sums and counts per key, remembering first-seen order.
type groups struct {
	order []string
	sum   map[string]float64
	count map[string]int
}

func newGroups() *groups {
	return &groups{sum: map[string]float64{}, count: map[string]int{}}
}

func (g *groups) add(key string, v float64) {
	if _, ok := g.count[key]; !ok {
		g.order = append(g.order, key)
	}
	g.sum[key] += v
	g.count[key]++
}

func (g *groups) empty() bool {
	return len(g.order) == 0
}

func (g *groups) avg(key string) float64 {
	return g.sum[key] / float64(g.count[key])
}

type groupValue struct {
	key   string
	value float64
}

// averages returns per-group averages in first-seen order.
func (g *groups) averages() []groupValue {
	out := make([]groupValue, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, groupValue{key: k, value: g.avg(k)})
	}
	return out
}

func rankDesc(values []groupValue) {
	sort.SliceStable(values, func(i, j int) bool { return values[i].value > values[j].value })
}

func render(header string, values []groupValue, format string) string {
	lines := make([]string, 0, len(values)+1)
	lines = append(lines, header)
	for _, v := range values {
		lines = append(lines, fmt.Sprintf("- %s: "+format, v.key, v.value))
	}
	return strings.Join(lines, "\n")
}

func mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values)), true
}

func cryptoVsOtherIncome(rows []dataset.Row, _ dataset.GroupKey) string {
	var crypto, other []float64
	for _, r := range rows {
		if r.PaymentMethod == paymentCrypto {
			crypto = append(crypto, r.Earnings)
		} else {
			other = append(other, r.Earnings)
		}
	}
	avgCrypto, okCrypto := mean(crypto)
	avgOther, okOther := mean(other)
	if !okCrypto || !okOther || avgOther == 0 {
		return InsufficientData
	}
	diff := avgCrypto - avgOther
	percent := diff / avgOther * 100
	return fmt.Sprintf(
		"Average income of freelancers paid in cryptocurrency: %.2f USD.\n"+
			"Average income with other payment methods: %.2f USD.\n"+
			"Difference: %.2f USD (%.1f%%)",
		avgCrypto, avgOther, diff, percent,
	)
}

func incomeByRegion(rows []dataset.Row, _ dataset.GroupKey) string {
	g := newGroups()
	for _, r := range rows {
		g.add(r.Group(dataset.GroupRegion), r.Earnings)
	}
	if g.empty() {
		return InsufficientData
	}
	values := g.averages()
	rankDesc(values)
	return render("Average income by region:", values, "%.2f USD")
}

func percentExpertsLT100Projects(rows []dataset.Row, _ dataset.GroupKey) string {
	experts, below := 0, 0
	for _, r := range rows {
		if r.Experience != experienceExpert {
			continue
		}
		experts++
		if r.JobsCompleted < expertProjectsCap {
			below++
		}
	}
	if experts == 0 {
		return InsufficientData
	}
	percent := float64(below) / float64(experts) * 100
	return fmt.Sprintf("%.1f%% of experts completed fewer than %d projects (%d/%d).", percent, expertProjectsCap, below, experts)
}

func avgIncome(key dataset.GroupKey, header string) Func {
	return func(rows []dataset.Row, _ dataset.GroupKey) string {
		g := newGroups()
		for _, r := range rows {
			g.add(r.Group(key), r.Earnings)
		}
		if g.empty() {
			return InsufficientData
		}
		return render(header, g.averages(), "%.2f USD")
	}
}

func top5RegionsByExperts(rows []dataset.Row, _ dataset.GroupKey) string {
	g := newGroups()
	for _, r := range rows {
		if r.Experience == experienceExpert {
			g.add(r.Group(dataset.GroupRegion), 1)
		}
	}
	if g.empty() {
		return InsufficientData
	}
	values := make([]groupValue, 0, len(g.order))
	for _, k := range g.order {
		values = append(values, groupValue{key: k, value: g.sum[k]})
	}
	rankDesc(values)
	if len(values) > topRegions {
		values = values[:topRegions]
	}
	return render("Top 5 regions by number of experts:", values, "%.0f")
}

func percentHighRehire(rows []dataset.Row, _ dataset.GroupKey) string {
	if len(rows) == 0 {
		return InsufficientData
	}
	high := 0
	for _, r := range rows {
		if r.RehireRate > highRehireRate {
			high++
		}
	}
	percent := float64(high) / float64(len(rows)) * 100
	return fmt.Sprintf("Share of freelancers with a rehire rate above %.1f%%: %.1f%% (%d/%d)", highRehireRate, percent, high, len(rows))
}

func positiveDuration(r dataset.Row) (float64, bool) {
	if !r.DurationDays.Valid || r.DurationDays.Value <= 0 {
		return 0, false
	}
	return r.DurationDays.Value, true
}

func avgJobDurationAll(rows []dataset.Row, _ dataset.GroupKey) string {
	var durations []float64
	for _, r := range rows {
		if d, ok := positiveDuration(r); ok {
			durations = append(durations, d)
		}
	}
	avg, ok := mean(durations)
	if !ok {
		return InsufficientData
	}
	return fmt.Sprintf("Average job duration: %.1f days", avg)
}

func avgJobDuration(key dataset.GroupKey, header string) Func {
	return func(rows []dataset.Row, _ dataset.GroupKey) string {
		g := newGroups()
		for _, r := range rows {
			if d, ok := positiveDuration(r); ok {
				g.add(r.Group(key), d)
			}
		}
		if g.empty() {
			return InsufficientData
		}
		return render(header, g.averages(), "%.1f days")
	}
}

func hourlyRate(r dataset.Row) dataset.Number   { return r.HourlyRate }
func successRate(r dataset.Row) dataset.Number  { return r.SuccessRate }
func clientRating(r dataset.Row) dataset.Number { return r.ClientRating }
func marketingSpend(r dataset.Row) dataset.Number {
	return dataset.Num(r.MarketingSpend)
}

func avgBy(header, format string, field func(dataset.Row) dataset.Number) Func {
	return func(rows []dataset.Row, by dataset.GroupKey) string {
		if _, err := dataset.ParseGroupKey(string(by)); err != nil {
			by = dataset.GroupCategory
		}
		g := newGroups()
		for _, r := range rows {
			if v := field(r); v.Valid {
				g.add(r.Group(by), v.Value)
			}
		}
		if g.empty() {
			return InsufficientData
		}
		return render(fmt.Sprintf(header, by), g.averages(), format)
	}
}
