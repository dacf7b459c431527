package rules

import (
	"math"

	"github.com/pscheid92/subathon/internal/domain"
)

// Attribution tags which policy branch produced a delta.
type Attribution string

const (
	AttrBits    Attribution = "bits"
	AttrSub     Attribution = "sub"
	AttrResub   Attribution = "resub"
	AttrGift    Attribution = "gift"
	AttrCharity Attribution = "charity"
	AttrFollow  Attribution = "follow"
	AttrAdmin   Attribution = "admin"
)

// Outcome is the result of evaluating one event.
type Outcome struct {
	RawSeconds   int64       `json:"raw_seconds"`
	DeltaSeconds int64       `json:"delta_seconds"`
	Multiplier   float64     `json:"multiplier"`
	Attribution  Attribution `json:"attribution"`
}

// Evaluate maps an event to a delta under cfg and the active modifiers.
// The second return value is false when the event has no effect.
func Evaluate(cfg domain.RuleConfig, event domain.Event, mods domain.Modifiers) (Outcome, bool) {
	raw, attr, ok := baseSeconds(cfg, event)
	if !ok || raw <= 0 {
		return Outcome{}, false
	}

	mult := Multiplier(cfg, mods)
	delta := floorSeconds(float64(raw) * mult)
	if delta <= 0 {
		return Outcome{}, false
	}

	return Outcome{
		RawSeconds:   raw,
		DeltaSeconds: delta,
		Multiplier:   mult,
		Attribution:  attr,
	}, true
}

// Multiplier composes the hype and bonus multipliers for the active modifiers.
func Multiplier(cfg domain.RuleConfig, mods domain.Modifiers) float64 {
	hype := positiveOr(cfg.Hype.Multiplier, 1)
	bonus := positiveOr(cfg.Bonus.Multiplier, 1)

	switch {
	case mods.HypeActive && mods.BonusActive:
		if cfg.Bonus.Stack {
			return hype * bonus
		}
		return math.Max(hype, bonus)
	case mods.HypeActive:
		return hype
	case mods.BonusActive:
		return bonus
	default:
		return 1
	}
}

func baseSeconds(cfg domain.RuleConfig, event domain.Event) (int64, Attribution, bool) {
	switch event.Kind {
	case domain.EventCheer, domain.EventBitsUse:
		return bitsSeconds(cfg.Bits, event)
	case domain.EventSubscribe:
		if event.IsGift {
			// the gift notification carries the total
			return 0, "", false
		}
		return subSeconds(cfg.Subs, event.Tier, AttrSub)
	case domain.EventResub:
		if !cfg.Subs.Enabled {
			return 0, "", false
		}
		if cfg.Subs.ResubSeconds > 0 {
			return int64(cfg.Subs.ResubSeconds), AttrResub, true
		}
		return subSeconds(cfg.Subs, event.Tier, AttrResub)
	case domain.EventGift:
		if !cfg.Gifts.Enabled || event.GiftTotal <= 0 {
			return 0, "", false
		}
		return int64(event.GiftTotal) * int64(cfg.Gifts.PerSubSeconds), AttrGift, true
	case domain.EventCharity:
		return charitySeconds(cfg.Charity, event.Amount)
	case domain.EventFollow:
		if !cfg.Follow.Enabled {
			return 0, "", false
		}
		return int64(cfg.Follow.Seconds), AttrFollow, true
	default:
		return 0, "", false
	}
}

func bitsSeconds(rule domain.BitsRule, event domain.Event) (int64, Attribution, bool) {
	if !rule.Enabled || rule.Per <= 0 || event.Bits <= 0 {
		return 0, "", false
	}

	source := rule.Source
	if source == "" {
		source = domain.BitsFromCheer
	}
	if (event.Kind == domain.EventCheer) != (source == domain.BitsFromCheer) {
		return 0, "", false
	}

	units := int64(event.Bits / rule.Per)
	return units * int64(rule.AddSeconds), AttrBits, true
}

func subSeconds(rule domain.SubRule, tier string, attr Attribution) (int64, Attribution, bool) {
	if !rule.Enabled {
		return 0, "", false
	}

	if seconds, ok := rule.TierSeconds[tier]; ok {
		return int64(seconds), attr, true
	}
	if seconds, ok := rule.TierSeconds[rule.DefaultTier]; ok {
		return int64(seconds), attr, true
	}
	return 0, "", false
}

func charitySeconds(rule domain.CharityRule, amount domain.MonetaryAmount) (int64, Attribution, bool) {
	if !rule.Enabled || amount.Value <= 0 || amount.DecimalPlaces < 0 {
		return 0, "", false
	}

	dollars := float64(amount.Value) / math.Pow10(amount.DecimalPlaces)
	return floorSeconds(dollars * float64(rule.PerDollarSeconds)), AttrCharity, true
}

// floorSeconds discards fractional seconds; remainders are not carried.
func floorSeconds(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Floor(v))
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
