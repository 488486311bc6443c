package gamesync

import (
	"errors"
	"sort"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// cards are role templates seeded once per deck and read-only from the
// sync core. the only writes here are the seeding path used by the ctl and
// the value/capability name caches.

func (self *Service) Card(cardId string) *Card {
	defer self.absorb("Card")

	if !self.ready() || cardId == "" {
		return nil
	}
	if card, ok := self.cache.Card(cardId); ok {
		return card
	}

	doc, err := self.store.Get(self.ctx, cardPath(cardId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[cs]get card %s: %s\n", cardId, err)
		}
		return nil
	}
	card, err := fromDoc[Card](doc)
	if err != nil {
		glog.Errorf("[cs]decode card %s: %s\n", cardId, err)
		return nil
	}
	card.Id = cardId
	self.cache.PutCard(cardId, card)
	return card
}

func (self *Service) CacheCard(cardId string, card *Card) {
	self.cache.PutCard(cardId, card)
}

// resolves a value id to its display name, caching the result
func (self *Service) ValueName(valueId string) string {
	defer self.absorb("ValueName")

	if !self.ready() || valueId == "" {
		return ""
	}
	if name, ok := self.cache.ValueName(valueId); ok {
		return name
	}

	doc, err := self.store.Get(self.ctx, valuePath(valueId))
	if err != nil {
		return ""
	}
	name, _ := doc["name"].(string)
	if name != "" {
		self.cache.SetValueName(valueId, name)
	}
	return name
}

func (self *Service) CapabilityName(capabilityId string) string {
	defer self.absorb("CapabilityName")

	if !self.ready() || capabilityId == "" {
		return ""
	}
	if name, ok := self.cache.CapabilityName(capabilityId); ok {
		return name
	}

	doc, err := self.store.Get(self.ctx, capabilityPath(capabilityId))
	if err != nil {
		return ""
	}
	name, _ := doc["name"].(string)
	if name != "" {
		self.cache.SetCapabilityName(capabilityId, name)
	}
	return name
}

// the card enriched with resolved value/capability names, kept apart from
// the persisted shape
func (self *Service) CardView(cardId string) *CardView {
	defer self.absorb("CardView")

	card := self.Card(cardId)
	if card == nil {
		return nil
	}

	view := &CardView{
		Card: card,
	}
	for valueId := range card.ValuesRef {
		if name := self.ValueName(valueId); name != "" {
			view.ValueNames = append(view.ValueNames, name)
		}
	}
	for capabilityId := range card.CapabilitiesRef {
		if name := self.CapabilityName(capabilityId); name != "" {
			view.CapabilityNames = append(view.CapabilityNames, name)
		}
	}
	sort.Strings(view.ValueNames)
	sort.Strings(view.CapabilityNames)
	return view
}
