package investigation

import (
	"regexp"

	"github.com/m-mizutani/pika/pkg/model"
)

var historicalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhave (i|we|you) (ever |already )?(investigated|seen|looked into|handled|had)\b`),
	regexp.MustCompile(`(?i)\bhow many times\b`),
	regexp.MustCompile(`(?i)\bhow often\b`),
	regexp.MustCompile(`(?i)\bpreviously\b`),
	regexp.MustCompile(`(?i)\blast time\b`),
	regexp.MustCompile(`(?i)\bin the past\b`),
	regexp.MustCompile(`(?i)\bbefore\b`),
	regexp.MustCompile(`(?i)\bagain\b`),
	regexp.MustCompile(`(?i)\brecurring\b`),
	regexp.MustCompile(`(?i)\bsimilar (incident|issue|outage|problem|failure)s?\b`),
	regexp.MustCompile(`(?i)\b(past|prior|previous|earlier) (incident|investigation|issue|outage)s?\b`),
	regexp.MustCompile(`(?i)\bhistor(y|ical)\b`),
}

var operationalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(is|are) (failing|down|slow|degraded|erroring|timing out|unavailable)\b`),
	regexp.MustCompile(`(?i)\bfailing\b`),
	regexp.MustCompile(`(?i)\bdegraded\b`),
	regexp.MustCompile(`(?i)\bdown\b`),
	regexp.MustCompile(`(?i)\bcurrently\b`),
	regexp.MustCompile(`(?i)\bright now\b`),
	regexp.MustCompile(`(?i)\bnow\b`),
	regexp.MustCompile(`(?i)\btoday\b`),
	regexp.MustCompile(`(?i)\bin the (last|past) (hour|few minutes|\d+ (minutes|hours))\b`),
	regexp.MustCompile(`(?i)\bcrash-?looping\b`),
	regexp.MustCompile(`(?i)\bcrashloopbackoff\b`),
	regexp.MustCompile(`(?i)\bslow\b`),
	regexp.MustCompile(`(?i)\bspiking\b`),
	regexp.MustCompile(`(?i)\btiming out\b`),
	regexp.MustCompile(`(?i)\bnot responding\b`),
	regexp.MustCompile(`(?i)\bwhy (is|are)\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is) (wrong|happening)\b`),
}

// Classify decides the investigation strategy from the wording of a query. It is a pure
// function of text. Historical wording alone selects memory_only, operational wording
// alone selects live_only; both, or neither, select hybrid.
func Classify(text string) model.Strategy {
	historical := matchAny(historicalMarkers, text)
	operational := matchAny(operationalMarkers, text)

	switch {
	case historical && !operational:
		return model.StrategyMemoryOnly
	case operational && !historical:
		return model.StrategyLiveOnly
	default:
		// ambiguous: a live call that turns out unnecessary is cheaper than a missed
		// historical correlation
		return model.StrategyHybrid
	}
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
