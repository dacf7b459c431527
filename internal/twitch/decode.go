package twitch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pscheid92/subathon/internal/domain"
)

var errUnknownKind = errors.New("unknown subscription type")

type userFields struct {
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type cheerEvent struct {
	userFields
	Bits int `json:"bits"`
}

type subscribeEvent struct {
	userFields
	Tier   string `json:"tier"`
	IsGift bool   `json:"is_gift"`
}

type giftEvent struct {
	userFields
	Tier  string `json:"tier"`
	Total int    `json:"total"`
}

type charityEvent struct {
	userFields
	Amount domain.MonetaryAmount `json:"amount"`
}

// DecodeEvent converts an EventSub event object into a domain event.
func DecodeEvent(kind domain.EventKind, raw json.RawMessage) (domain.Event, error) {
	event := domain.Event{Kind: kind}

	var err error
	switch kind {
	case domain.EventCheer, domain.EventBitsUse:
		var e cheerEvent
		err = json.Unmarshal(raw, &e)
		event.Bits = e.Bits
		setUser(&event, e.userFields)
	case domain.EventSubscribe, domain.EventResub:
		var e subscribeEvent
		err = json.Unmarshal(raw, &e)
		event.Tier = e.Tier
		event.IsGift = e.IsGift
		setUser(&event, e.userFields)
	case domain.EventGift:
		var e giftEvent
		err = json.Unmarshal(raw, &e)
		event.Tier = e.Tier
		event.GiftTotal = e.Total
		setUser(&event, e.userFields)
	case domain.EventCharity:
		var e charityEvent
		err = json.Unmarshal(raw, &e)
		event.Amount = e.Amount
		setUser(&event, e.userFields)
	case domain.EventFollow:
		var e userFields
		err = json.Unmarshal(raw, &e)
		setUser(&event, e)
	case domain.EventHypeBegin, domain.EventHypeProgress, domain.EventHypeEnd:
		if !json.Valid(raw) {
			err = errors.New("invalid json")
		}
	default:
		return domain.Event{}, fmt.Errorf("%w: %s", errUnknownKind, kind)
	}

	if err != nil {
		return domain.Event{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	return event, nil
}

func setUser(event *domain.Event, u userFields) {
	event.UserID = u.UserID
	event.UserName = u.UserName
	event.Anonymous = u.IsAnonymous
}
