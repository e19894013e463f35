package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tradeforge/internal/condition"
)

// MaxIndicatorConditions is the leaf count above which a strategy draws a
// complexity warning.
const MaxIndicatorConditions = 10

// Report is the outcome of ValidateStrategy. Warnings never make a strategy
// invalid.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateStrategy checks a custom strategy's condition sets for structural
// errors and reports heuristic warnings.
func ValidateStrategy(buy, sell Conditions) Report {
	r := Report{Errors: []string{}, Warnings: []string{}}

	if len(buy) == 0 {
		r.Errors = append(r.Errors, "buyConditions: at least one buy condition is required")
	}
	if len(sell) == 0 {
		r.Errors = append(r.Errors, "sellConditions: at least one sell condition is required")
	}

	buyLeaves := r.parseSide("buyConditions", buy)
	sellLeaves := r.parseSide("sellConditions", sell)

	if len(buy) > 0 && len(sell) > 0 && sameJSON(buy, sell) {
		r.Errors = append(r.Errors, "buy and sell conditions are identical; strategy would never generate signals")
	}

	if len(r.Errors) == 0 {
		r.warn(buyLeaves, sellLeaves)
	}
	r.Valid = len(r.Errors) == 0
	return r
}

func (r *Report) parseSide(field string, raws Conditions) []condition.Leaf {
	var leaves []condition.Leaf
	for i, raw := range raws {
		n, err := condition.ParseAt(fmt.Sprintf("%s[%d]", field, i), raw)
		if err != nil {
			r.Errors = append(r.Errors, err.Error())
			continue
		}
		leaves = append(leaves, n.Leaves()...)
	}
	return leaves
}

func (r *Report) warn(buy, sell []condition.Leaf) {
	for _, l := range buy {
		if l.Subject.Kind == condition.KindRSI && (l.Op == condition.OpOverbought || (l.Op == condition.OpAbove && l.Threshold != nil && *l.Threshold >= 70)) {
			r.Warnings = append(r.Warnings, "buy condition triggers on overbought RSI; RSI logic looks inverted")
			break
		}
	}
	for _, l := range sell {
		if l.Subject.Kind == condition.KindRSI && (l.Op == condition.OpOversold || (l.Op == condition.OpBelow && l.Threshold != nil && *l.Threshold <= 30)) {
			r.Warnings = append(r.Warnings, "sell condition triggers on oversold RSI; RSI logic looks inverted")
			break
		}
	}

	unreachable := len(sell) > 0
	for _, l := range sell {
		if !neverTrue(l) {
			unreachable = false
			break
		}
	}
	if unreachable {
		r.Warnings = append(r.Warnings, "no sell condition can ever be satisfied; positions would never close")
	}

	kinds := make(map[condition.IndicatorKind]bool)
	all := append(append([]condition.Leaf(nil), buy...), sell...)
	for _, l := range all {
		kinds[l.Subject.Kind] = true
		if l.Reference != nil {
			kinds[l.Reference.Kind] = true
		}
	}
	if len(kinds) == 1 {
		for k := range kinds {
			r.Warnings = append(r.Warnings, fmt.Sprintf("strategy relies on a single indicator (%s); consider confirming with another", k))
		}
	}
	if len(all) > MaxIndicatorConditions {
		r.Warnings = append(r.Warnings, fmt.Sprintf("strategy uses %d indicator conditions; more than %d is hard to reason about", len(all), MaxIndicatorConditions))
	}
}

// neverTrue reports whether a leaf compares a bounded oscillator against a
// threshold it can never pass.
func neverTrue(l condition.Leaf) bool {
	if l.Subject.Kind != condition.KindRSI || l.Threshold == nil {
		return false
	}
	t := *l.Threshold
	switch l.Op {
	case condition.OpAbove, condition.OpOverbought, condition.OpCrossesAbove:
		return t >= 100
	case condition.OpBelow, condition.OpOversold, condition.OpCrossesBelow:
		return t <= 0
	}
	return false
}

// sameJSON compares two condition sets by their canonical JSON encoding.
// Node and indicator type names are case-insensitive.
func sameJSON(a, b Conditions) bool {
	ja, errA := canonical(a)
	jb, errB := canonical(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func canonical(c Conditions) ([]byte, error) {
	out := make([]condition.RawNode, len(c))
	for i, n := range c {
		out[i] = lowerNode(n)
	}
	return json.Marshal(out)
}

func lowerNode(n condition.RawNode) condition.RawNode {
	n.Type = strings.ToLower(n.Type)
	if n.Indicator != nil {
		ind := *n.Indicator
		ind.Type = strings.ToLower(ind.Type)
		ind.Condition = strings.ToLower(ind.Condition)
		n.Indicator = &ind
	}
	if len(n.Children) > 0 {
		children := make([]condition.RawNode, len(n.Children))
		for i, c := range n.Children {
			children[i] = lowerNode(c)
		}
		n.Children = children
	}
	return n
}
