package inclusion

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/transport"
)

// Reason explains an inclusion decision. Exactly one applies per device,
// determined by the evaluation order in Evaluate.
type Reason string

const (
	ReasonTransportRejected Reason = "transport_rejected"
	ReasonNotIncluded       Reason = "not_included"
	ReasonNameExcluded      Reason = "name_excluded"
	ReasonClassExcluded     Reason = "class_excluded"
	ReasonIncluded          Reason = "included"
)

// Decision is the outcome of evaluating one device against the rules.
type Decision struct {
	Include bool
	Reason  Reason
}

// Config is the raw filter configuration. Name patterns are regular
// expressions; malformed ones are skipped with a warning when the rules are
// compiled, never at evaluation time.
type Config struct {
	Transports      []string
	WantedClasses   []string
	ExcludedClasses []string
	IncludeNames    []string
	ExcludeNames    []string

	// VirtualClassCounts lets a device's self-reported virtual class stand in
	// for its real class when checking the wanted-class set.
	VirtualClassCounts bool
	// ExcludeOverridesVirtual applies class exclusion even to devices that
	// only became candidates through their virtual class.
	ExcludeOverridesVirtual bool
}

// Rules is the compiled, immutable form of Config. Compile once per run and
// share freely; Evaluate holds no mutable state.
type Rules struct {
	transports      map[string]struct{}
	wantedClasses   map[string]struct{}
	excludedClasses map[string]struct{}
	includeNames    []*regexp.Regexp
	excludeNames    []*regexp.Regexp

	virtualClassCounts      bool
	excludeOverridesVirtual bool
}

// NewRules compiles cfg. Pattern compilation is case-insensitive; entries
// that fail to compile are logged and dropped so one bad pattern cannot take
// the whole run down.
func NewRules(log zerolog.Logger, cfg Config) *Rules {
	return &Rules{
		transports:              toSet(transport.NormalizeList(cfg.Transports)),
		wantedClasses:           toSet(normalizeClasses(cfg.WantedClasses)),
		excludedClasses:         toSet(normalizeClasses(cfg.ExcludedClasses)),
		includeNames:            compilePatterns(log, "include_names", cfg.IncludeNames),
		excludeNames:            compilePatterns(log, "exclude_names", cfg.ExcludeNames),
		virtualClassCounts:      cfg.VirtualClassCounts,
		excludeOverridesVirtual: cfg.ExcludeOverridesVirtual,
	}
}

// Evaluate runs the filter chain. The order is the contract: transport gate,
// candidacy, name exclusion, class exclusion. Name exclusion always runs no
// matter how the device became a candidate.
func (r *Rules) Evaluate(d fleet.Device, transports []string) Decision {
	if len(r.transports) > 0 && !transport.Matches(transports, r.transports) {
		return Decision{Reason: ReasonTransportRejected}
	}

	realClass := strings.ToLower(strings.TrimSpace(d.Class))
	virtualClass := strings.ToLower(strings.TrimSpace(d.VirtualClass))

	_, classWanted := r.wantedClasses[realClass]
	virtualWanted := false
	if r.virtualClassCounts && virtualClass != "" {
		_, virtualWanted = r.wantedClasses[virtualClass]
	}
	// An empty include-name list contributes nothing; it must never read as
	// "match everything".
	nameWanted := len(r.includeNames) > 0 && matchAny(r.includeNames, d.Name)

	if !classWanted && !virtualWanted && !nameWanted {
		return Decision{Reason: ReasonNotIncluded}
	}

	if matchAny(r.excludeNames, d.Name) {
		return Decision{Reason: ReasonNameExcluded}
	}

	// Class exclusion checks the real class only. A device admitted solely by
	// its virtual class escapes it unless the override toggle is set.
	virtualOnly := virtualWanted && !classWanted
	if !virtualOnly || r.excludeOverridesVirtual {
		if _, excluded := r.excludedClasses[realClass]; excluded {
			return Decision{Reason: ReasonClassExcluded}
		}
	}

	return Decision{Include: true, Reason: ReasonIncluded}
}

func compilePatterns(log zerolog.Logger, field string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			log.Warn().Str("field", field).Str("pattern", p).Err(err).Msg("skipping malformed filter pattern")
			continue
		}
		out = append(out, re)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func normalizeClasses(classes []string) []string {
	out := make([]string, 0, len(classes))
	for _, c := range classes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
