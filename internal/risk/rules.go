package risk

import (
	"regexp"
	"strings"

	"github.com/verdictlabs/negotiator/pkg/models"
)

// rule is one entry of the compiled heuristic rule table. A rule matches a
// change through its declared risk tag, through keywords in the free-text
// description, or both; each match source counts as one pattern hit.
type rule struct {
	factor models.RiskTag
	re     *regexp.Regexp

	// Additive impact contributions, applied once per matched change.
	latencyIncreasePercent   float64
	errorRateIncreasePercent float64

	// patternWeight scales how strongly a hit moves the score.
	patternWeight float64
}

// ruleSpec is the constant source the table is compiled from at process
// start. Keywords are matched case-insensitively at the start of a word; a
// keyword also matches longer words it begins ("encrypt" in "encryption").
type ruleSpec struct {
	factor         models.RiskTag
	keywords       []string
	latencyInc     float64
	errorRateInc   float64
	patternWeight  float64
}

var ruleSpecs = []ruleSpec{
	{
		factor:        models.TagCaching,
		keywords:      []string{"cache", "caching", "ttl", "eviction", "redis", "memcache"},
		latencyInc:    20,
		errorRateInc:  0.3,
		patternWeight: 2.0,
	},
	{
		factor:        models.TagDatabaseSchema,
		keywords:      []string{"schema", "migration", "alter table", "index", "column"},
		latencyInc:    25,
		errorRateInc:  0.5,
		patternWeight: 2.5,
	},
	{
		factor:        models.TagAPIContract,
		keywords:      []string{"api", "endpoint", "contract", "breaking", "deprecate"},
		latencyInc:    10,
		errorRateInc:  0.4,
		patternWeight: 2.0,
	},
	{
		factor:        models.TagTraffic,
		keywords:      []string{"traffic", "routing", "throttle", "rate limit", "shedding"},
		latencyInc:    15,
		errorRateInc:  0.3,
		patternWeight: 1.5,
	},
	{
		factor:        models.TagPermissions,
		keywords:      []string{"permission", "auth", "rbac", "acl", "scope"},
		latencyInc:    5,
		errorRateInc:  0.6,
		patternWeight: 1.5,
	},
	{
		factor:        models.TagEncryption,
		keywords:      []string{"encrypt", "tls", "certificate", "cipher", "key rotation"},
		latencyInc:    12,
		errorRateInc:  0.2,
		patternWeight: 1.5,
	},
	{
		factor:        models.TagLoadBalancing,
		keywords:      []string{"load balanc", "upstream", "backend pool", "health check"},
		latencyInc:    18,
		errorRateInc:  0.3,
		patternWeight: 1.5,
	},
	{
		factor:        models.TagStorage,
		keywords:      []string{"storage", "disk", "volume", "bucket", "filesystem"},
		latencyInc:    15,
		errorRateInc:  0.3,
		patternWeight: 1.5,
	},
}

// compileRules builds the matcher table. Called once per scorer; never per
// request.
func compileRules() []rule {
	rules := make([]rule, 0, len(ruleSpecs))
	for _, spec := range ruleSpecs {
		escaped := make([]string, 0, len(spec.keywords))
		for _, kw := range spec.keywords {
			escaped = append(escaped, regexp.QuoteMeta(kw))
		}
		re := regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)`)

		rules = append(rules, rule{
			factor:                   spec.factor,
			re:                       re,
			latencyIncreasePercent:   spec.latencyInc,
			errorRateIncreasePercent: spec.errorRateInc,
			patternWeight:            spec.patternWeight,
		})
	}
	return rules
}
