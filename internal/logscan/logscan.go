// Package logscan derives snipe state from the text a bidding worker appends
// to its log file. All functions are pure: the same bytes always produce the
// same answer, and a truncated or empty log reads as still running.
package logscan

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Markers emitted by the worker
// ──────────────────────────────────────────────────────────────────────────────

const (
	// MarkerWon is printed once the worker has won the item.
	MarkerWon = "You have already won"

	// MarkerBelowMinimum is printed when the configured bid cannot even meet
	// the auction's minimum bid.
	MarkerBelowMinimum = "Bid price less than minimum bid price"
)

var (
	// "(your maximum bid: 15.00)"
	ownBidRe = regexp.MustCompile(`bid:\s*([0-9][0-9.,]*)`)
	// "Currently: 12.50  (your maximum bid: 15.00)"; "Currently: --" has no value.
	competingBidRe = regexp.MustCompile(`Currently:\s*([0-9][0-9.,]*)`)
	// "End time: 24/12/2024 18:30:00" (dd/mm/yyyy, worker host's local time)
	endTimeRe = regexp.MustCompile(`End time:\s*(\d{2})/(\d{2})/(\d{4}) (\d{2}):(\d{2}):(\d{2})`)
)

// ──────────────────────────────────────────────────────────────────────────────
// Extraction
// ──────────────────────────────────────────────────────────────────────────────

// DetermineStatus classifies a worker log. Precedence: a win marker wins
// outright, then the below-minimum marker means outbid, then the last seen
// own bid is compared with the last seen competing bid (outbid when the own
// bid is not strictly higher). Anything else is still running.
func DetermineStatus(log []byte) domain.AuctionStatus {
	if bytes.Contains(log, []byte(MarkerWon)) {
		return domain.StatusWon
	}
	if bytes.Contains(log, []byte(MarkerBelowMinimum)) {
		return domain.StatusOutbid
	}
	own, okOwn := lastAmount(ownBidRe, log)
	current, okCur := lastAmount(competingBidRe, log)
	if okOwn && okCur && own.LessThanOrEqual(current) {
		return domain.StatusOutbid
	}
	return domain.StatusRunning
}

// ExtractHighestBid returns the value of the last competing-bid marker.
func ExtractHighestBid(log []byte) (decimal.Decimal, bool) {
	return lastAmount(competingBidRe, log)
}

// ExtractEndTime returns the last "End time:" marker interpreted in loc
// (time.Local when loc is nil). Out-of-range fields roll over the way
// mktime does, so 31/02/2024 reads as 2 March 2024.
func ExtractEndTime(log []byte, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	m := endTimeRe.FindSubmatch(lastMatch(endTimeRe, log))
	if m == nil {
		return time.Time{}, false
	}
	var f [6]int
	for i := range f {
		f[i], _ = strconv.Atoi(string(m[i+1]))
	}
	return time.Date(f[2], time.Month(f[1]), f[0], f[3], f[4], f[5], 0, loc), true
}

// Observation bundles everything a single pass over a log yields.
type Observation struct {
	Status     domain.AuctionStatus
	HighestBid *decimal.Decimal
	EndTime    *time.Time
}

// Scan runs all extractors over log.
func Scan(log []byte, loc *time.Location) Observation {
	obs := Observation{Status: DetermineStatus(log)}
	if hb, ok := ExtractHighestBid(log); ok {
		obs.HighestBid = &hb
	}
	if et, ok := ExtractEndTime(log, loc); ok {
		obs.EndTime = &et
	}
	return obs
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// lastMatch returns the last text matched by re, or nil.
func lastMatch(re *regexp.Regexp, log []byte) []byte {
	all := re.FindAll(log, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// lastAmount returns the last parsable amount captured by re.
func lastAmount(re *regexp.Regexp, log []byte) (decimal.Decimal, bool) {
	matches := re.FindAllSubmatch(log, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if d, ok := ParseAmount(string(matches[i][1])); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// ParseAmount parses a price as printed by the worker. Either "," or "." may
// be the decimal separator; when both appear the last one is the decimal
// separator and the other groups thousands. A separator that repeats is
// treated as a thousands separator.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), ".,")
	if s == "" {
		return decimal.Zero, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
