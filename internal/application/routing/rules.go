package routing

import (
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

// reasonNoProcessor is the recorded fallback reason when an external route was
// wanted but no connected processor exists.
const reasonNoProcessor = "NoProcessorAvailable"

// Decision is the routing engine's output for one pending payment.
type Decision struct {
	Path               transaction.Path
	Processor          string
	FallbackReason     *string
	SplitPlatformCents int64
	Rule               string
}

// RuleInput carries everything a rule may inspect. FallbackReason accumulates
// across rules: an earlier rule that wanted an external route but could not
// take it leaves its reason for the eventual platform fallback to record.
type RuleInput struct {
	Config             *merchant.RoutingConfig
	AmountCents        int64
	ConnectedProcessor string // empty when the merchant has no usable connection
	FallbackReason     *string
}

// Rule is one ordered predicate→decision step. Apply returns nil when the rule
// does not decide the payment; evaluation then moves to the next rule.
type Rule struct {
	Name  string
	Apply func(in *RuleInput) *Decision
}

// rulesFor returns the ordered rule chain for the merchant's routing mode.
func rulesFor(mode merchant.RoutingMode) []Rule {
	switch mode {
	case merchant.ModeCentralized:
		return []Rule{ruleCentralized}
	case merchant.ModeDecentralized:
		return []Rule{rulePreferredProcessor, ruleAnyConnected, ruleFallbackPlatform}
	case merchant.ModeHybrid:
		return []Rule{ruleSplit, ruleExternal, rulePlatformSmall, ruleFallbackPlatform}
	default:
		return nil
	}
}

var ruleCentralized = Rule{
	Name: "centralized",
	Apply: func(in *RuleInput) *Decision {
		return &Decision{Path: transaction.PathPlatform, Processor: platformProcessor, Rule: "centralized"}
	},
}

var rulePreferredProcessor = Rule{
	Name: "preferred-processor",
	Apply: func(in *RuleInput) *Decision {
		if in.ConnectedProcessor == "" {
			reason := reasonNoProcessor
			in.FallbackReason = &reason
			return nil
		}
		if in.ConnectedProcessor != in.Config.PreferredProcessor {
			return nil
		}
		return &Decision{Path: transaction.PathExternal, Processor: in.ConnectedProcessor, Rule: "preferred-processor"}
	},
}

var ruleAnyConnected = Rule{
	Name: "any-connected",
	Apply: func(in *RuleInput) *Decision {
		if in.ConnectedProcessor == "" {
			return nil
		}
		return &Decision{Path: transaction.PathExternal, Processor: in.ConnectedProcessor, Rule: "any-connected"}
	},
}

var ruleSplit = Rule{
	Name: "split-threshold",
	Apply: func(in *RuleInput) *Decision {
		if in.AmountCents < in.Config.SplitThresholdCents {
			return nil
		}
		if in.ConnectedProcessor == "" {
			reason := reasonNoProcessor
			in.FallbackReason = &reason
			return nil
		}
		platformCents := in.AmountCents * int64(in.Config.SplitPlatformBps) / 10_000
		return &Decision{
			Path:               transaction.PathSplit,
			Processor:          in.ConnectedProcessor,
			SplitPlatformCents: platformCents,
			Rule:               "split-threshold",
		}
	},
}

var ruleExternal = Rule{
	Name: "external-minimum",
	Apply: func(in *RuleInput) *Decision {
		if in.AmountCents < in.Config.MinExternalCents {
			return nil
		}
		if in.ConnectedProcessor == "" {
			reason := reasonNoProcessor
			in.FallbackReason = &reason
			return nil
		}
		return &Decision{Path: transaction.PathExternal, Processor: in.ConnectedProcessor, Rule: "external-minimum"}
	},
}

var rulePlatformSmall = Rule{
	Name: "platform-maximum",
	Apply: func(in *RuleInput) *Decision {
		if in.AmountCents > in.Config.MaxPlatformCents {
			return nil
		}
		return &Decision{
			Path:           transaction.PathPlatform,
			Processor:      platformProcessor,
			FallbackReason: in.FallbackReason,
			Rule:           "platform-maximum",
		}
	},
}

var ruleFallbackPlatform = Rule{
	Name: "fallback-platform",
	Apply: func(in *RuleInput) *Decision {
		if !in.Config.FallbackEnabled {
			return nil
		}
		reason := reasonNoProcessor
		if in.FallbackReason != nil {
			reason = *in.FallbackReason
		}
		return &Decision{
			Path:           transaction.PathPlatform,
			Processor:      platformProcessor,
			FallbackReason: &reason,
			Rule:           "fallback-platform",
		}
	},
}
