package domain

import (
	"fmt"
	"time"
)

// BitsSource selects which event type converts bits into time. Cheers and
// bits-use events both report the same bits, so only one of them may count.
type BitsSource string

const (
	BitsFromCheer   BitsSource = "cheer"
	BitsFromBitsUse BitsSource = "bits_use"
)

const (
	Tier1 = "1000"
	Tier2 = "2000"
	Tier3 = "3000"
)

// RuleConfig is a tenant's conversion policy. It is replaced wholesale on update.
type RuleConfig struct {
	Bits    BitsRule    `json:"bits"`
	Subs    SubRule     `json:"subs"`
	Gifts   GiftRule    `json:"gifts"`
	Charity CharityRule `json:"charity"`
	Follow  FollowRule  `json:"follow"`
	Hype    HypeRule    `json:"hype"`
	Bonus   BonusRule   `json:"bonus"`
	Style   StyleConfig `json:"style"`
}

type BitsRule struct {
	Enabled    bool       `json:"enabled"`
	Source     BitsSource `json:"source"`
	Per        int        `json:"per"`
	AddSeconds int        `json:"add_seconds"`
}

type SubRule struct {
	Enabled      bool           `json:"enabled"`
	TierSeconds  map[string]int `json:"tier_seconds"`
	DefaultTier  string         `json:"default_tier"`
	ResubSeconds int            `json:"resub_seconds"`
}

type GiftRule struct {
	Enabled       bool `json:"enabled"`
	PerSubSeconds int  `json:"per_sub_seconds"`
}

type CharityRule struct {
	Enabled          bool `json:"enabled"`
	PerDollarSeconds int  `json:"per_dollar_seconds"`
}

type FollowRule struct {
	Enabled bool `json:"enabled"`
	Seconds int  `json:"seconds"`
}

type HypeRule struct {
	Multiplier float64 `json:"multiplier"`
	// Auto toggles hype on hype-train begin/end notifications.
	Auto bool `json:"auto"`
}

type BonusRule struct {
	Multiplier float64 `json:"multiplier"`
	// Stack multiplies hype and bonus when both are active; otherwise the larger one wins.
	Stack bool `json:"stack"`
}

// StyleConfig is opaque presentation data forwarded to subscribers as a style update.
type StyleConfig struct {
	Theme      string `json:"theme,omitempty"`
	FontFamily string `json:"font_family,omitempty"`
	Color      string `json:"color,omitempty"`
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Bits: BitsRule{Enabled: true, Source: BitsFromCheer, Per: 100, AddSeconds: 60},
		Subs: SubRule{
			Enabled:     true,
			TierSeconds: map[string]int{Tier1: 300, Tier2: 600, Tier3: 1500},
			DefaultTier: Tier1,
		},
		Gifts:   GiftRule{Enabled: true, PerSubSeconds: 300},
		Charity: CharityRule{Enabled: false, PerDollarSeconds: 60},
		Follow:  FollowRule{Enabled: false, Seconds: 0},
		Hype:    HypeRule{Multiplier: 2, Auto: true},
		Bonus:   BonusRule{Multiplier: 2, Stack: false},
	}
}

// Validate rejects configs that cannot be evaluated sensibly. Evaluation itself never fails.
func (c RuleConfig) Validate() error {
	if c.Bits.Enabled {
		if c.Bits.Source != BitsFromCheer && c.Bits.Source != BitsFromBitsUse {
			return fmt.Errorf("%w: bits.source must be %q or %q", ErrInvalidRules, BitsFromCheer, BitsFromBitsUse)
		}
		if c.Bits.Per <= 0 {
			return fmt.Errorf("%w: bits.per must be positive", ErrInvalidRules)
		}
	}
	if c.Subs.Enabled {
		if _, ok := c.Subs.TierSeconds[c.Subs.DefaultTier]; !ok {
			return fmt.Errorf("%w: subs.default_tier %q has no tier_seconds entry", ErrInvalidRules, c.Subs.DefaultTier)
		}
	}
	if c.Hype.Multiplier < 0 || c.Bonus.Multiplier < 0 {
		return fmt.Errorf("%w: multipliers must not be negative", ErrInvalidRules)
	}
	negative := c.Bits.AddSeconds < 0 || c.Subs.ResubSeconds < 0 || c.Gifts.PerSubSeconds < 0 ||
		c.Charity.PerDollarSeconds < 0 || c.Follow.Seconds < 0
	if negative {
		return fmt.Errorf("%w: seconds must not be negative", ErrInvalidRules)
	}
	return nil
}

// Modifiers is the multiplier-relevant part of a tenant's timer state at evaluation time.
type Modifiers struct {
	HypeActive  bool
	BonusActive bool
}

// BonusWindow bounds the bonus multiplier in time. A nil bound is open.
type BonusWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (w BonusWindow) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && !t.Before(*w.End) {
		return false
	}
	return true
}
