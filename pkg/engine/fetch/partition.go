package fetch

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/awsnare/awsnare/pkg/errs"
)

// DefaultLayout is CloudTrail's canonical key prefix for one partition.
const DefaultLayout = "AWSLogs/{account}/CloudTrail/{region}/{year}/{month}/{day}/"

// Partition is the (date, region) unit under which archives are stored.
type Partition struct {
	Date   time.Time
	Region string
}

// Day returns the calendar date of t as midnight UTC. The date is taken in
// t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Window returns the default detection window: the last lookback days up to
// and including today.
func Window(now time.Time, lookback int) (start, end time.Time) {
	end = Day(now.UTC())
	return end.AddDate(0, 0, -lookback), end
}

// Partitions enumerates every calendar day in [start, end] inclusive for
// every region, ordered by date and then by region order.
func Partitions(start, end time.Time, regions []string) ([]Partition, error) {
	if len(regions) == 0 {
		return nil, errs.Config("partitions", errors.New("no regions configured"))
	}
	first, last := Day(start), Day(end)
	if first.After(last) {
		return nil, errs.Configf("partitions", "start date %s is after end date %s",
			first.Format(time.DateOnly), last.Format(time.DateOnly))
	}

	var out []Partition
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		for _, r := range regions {
			out = append(out, Partition{Date: d, Region: r})
		}
	}
	return out, nil
}

// ValidateLayout rejects layouts missing a placeholder, since two partitions
// would then share a prefix.
func ValidateLayout(layout string) error {
	for _, p := range []string{"{region}", "{year}", "{month}", "{day}"} {
		if !strings.Contains(layout, p) {
			return errs.Configf("key_layout", "layout %q lacks %s", layout, p)
		}
	}
	return nil
}

// Key renders the object-store prefix of p under layout.
func (p Partition) Key(layout, account string) string {
	if layout == "" {
		layout = DefaultLayout
	}
	r := strings.NewReplacer(
		"{account}", account,
		"{region}", p.Region,
		"{year}", fmt.Sprintf("%04d", p.Date.Year()),
		"{month}", fmt.Sprintf("%02d", int(p.Date.Month())),
		"{day}", fmt.Sprintf("%02d", p.Date.Day()),
	)
	return r.Replace(layout)
}

func (p Partition) String() string {
	return p.Region + "/" + p.Date.Format(time.DateOnly)
}

// StagedName is the flat staging file name for an object of p. Names are
// unique across partitions, so re-fetching overwrites rather than duplicates.
func StagedName(p Partition, key string) string {
	return fmt.Sprintf("%s_%s_%s", p.Region, p.Date.Format(time.DateOnly), path.Base(key))
}
