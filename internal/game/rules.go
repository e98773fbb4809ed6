package game

import (
	"fmt"

	"example.com/arbiter/internal/ledger"
)

func DescribeRule(kind ledger.RuleKind) string {
	switch kind {
	case ledger.RuleNone:
		return "No rule"
	case ledger.RuleBloodTax:
		return "Blood Tax: Rule creator gets 10% of all earned points"
	case ledger.RuleBountyHunter:
		return "Bounty Hunter: 2x points for defeating the leader"
	case ledger.RuleExpensiveDomain:
		return "Expensive Domain: Domain costs 50 instead of 30"
	case ledger.RuleSanctuary:
		return "Sanctuary: Skip next combat round (cooldown)"
	default:
		return "Unknown rule"
	}
}

// FormatRules renders active rules the way agents read them.
func FormatRules(rules []ledger.ActiveRule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, fmt.Sprintf("[Round %d] %s (proposed by %s)", r.ActivatedAtRound, DescribeRule(r.Kind), r.Proposer))
	}
	return out
}
