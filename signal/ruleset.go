package signal

import "golang.org/x/exp/slices"

// DefaultAspect is shown by a head whose ruleset can't resolve anything.
const DefaultAspect = "0"

// AnyAspect in a rule matches any aspect of the next signal, and also no next signal at all.
const AnyAspect = "*"

type ruleKey struct {
	indication string
	next       string
}

// Ruleset resolves a head's aspect from its indication and the aspect of the signal ahead.
type Ruleset struct {
	Name string
	// DefaultIndication is assumed for heads that haven't been given an indication yet.
	DefaultIndication string
	aspects           []string
	defaults          map[string]string
	rules             map[ruleKey]string
}

// NewRuleset returns a ruleset whose aspects, in order, are aspects.
func NewRuleset(name, defaultIndication string, aspects ...string) *Ruleset {
	return &Ruleset{
		Name:              name,
		DefaultIndication: defaultIndication,
		aspects:           aspects,
		defaults:          map[string]string{},
		rules:             map[ruleKey]string{},
	}
}

// AddRule makes indication resolve to aspect when the next signal shows next.
// next may be AnyAspect.
func (r *Ruleset) AddRule(indication, next, aspect string) {
	r.rules[ruleKey{indication, next}] = aspect
}

// SetDefault makes indication resolve to aspect when no rule matches.
func (r *Ruleset) SetDefault(indication, aspect string) {
	r.defaults[indication] = aspect
}

// Resolve returns the aspect for indication. hasNext is false when there is no signal ahead.
func (r *Ruleset) Resolve(indication, next string, hasNext bool) string {
	if hasNext {
		if a, ok := r.rules[ruleKey{indication, next}]; ok {
			return a
		}
	}
	if a, ok := r.rules[ruleKey{indication, AnyAspect}]; ok {
		return a
	}
	return r.Default(indication)
}

// Default returns the default aspect of indication.
func (r *Ruleset) Default(indication string) string {
	if a, ok := r.defaults[indication]; ok {
		return a
	}
	return DefaultAspect
}

// Index returns aspect's position in the ruleset's aspect order, or -1.
func (r *Ruleset) Index(aspect string) int {
	return slices.Index(r.aspects, aspect)
}

// Aspects returns the aspects in order.
func (r *Ruleset) Aspects() []string {
	return slices.Clone(r.aspects)
}
