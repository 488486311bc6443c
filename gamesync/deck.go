package gamesync

import (
	"fmt"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"accordsim.com/gamesync/keyed"
)

// deck seed files describe the immutable card templates for one deck.
// seeding writes value and capability name documents, the card documents,
// and the deck membership edges.

type DeckFile struct {
	Name  string     `yaml:"name"`
	Cards []CardSeed `yaml:"cards"`
}

type CardSeed struct {
	RoleTitle    string   `yaml:"role_title"`
	Category     string   `yaml:"category"`
	Backstory    string   `yaml:"backstory"`
	Goals        string   `yaml:"goals"`
	Values       []string `yaml:"values"`
	Capabilities []string `yaml:"capabilities"`
}

func ParseDeckFile(data []byte) (*DeckFile, error) {
	deckFile := &DeckFile{}
	if err := yaml.Unmarshal(data, deckFile); err != nil {
		return nil, err
	}
	if deckFile.Name == "" {
		return nil, fmt.Errorf("deck file missing name")
	}
	if len(deckFile.Cards) == 0 {
		return nil, fmt.Errorf("deck %q has no cards", deckFile.Name)
	}
	for i, seed := range deckFile.Cards {
		if seed.RoleTitle == "" {
			return nil, fmt.Errorf("card %d missing role_title", i)
		}
	}
	return deckFile, nil
}

// writes the deck's cards and supporting name documents to the store.
// names are deduplicated into shared value/capability documents. returns
// the deck id, or "" on failure.
func (self *Service) SeedDeck(deckFile *DeckFile) (deckId string) {
	defer self.absorb("SeedDeck")

	if !self.ready() || deckFile == nil {
		return ""
	}

	deckId = NewId().String()
	valueIds := map[string]string{}
	capabilityIds := map[string]string{}
	cardsRef := map[string]bool{}

	for _, seed := range deckFile.Cards {
		card := &Card{
			Id:              NewId().String(),
			RoleTitle:       seed.RoleTitle,
			Category:        seed.Category,
			Backstory:       seed.Backstory,
			Goals:           seed.Goals,
			ValuesRef:       map[string]bool{},
			CapabilitiesRef: map[string]bool{},
			Decks:           map[string]bool{deckId: true},
		}
		for _, name := range seed.Values {
			valueId, ok := valueIds[name]
			if !ok {
				valueId = NewId().String()
				valueIds[name] = valueId
				self.putWithTimeout(valuePath(valueId), keyed.Doc{"id": valueId, "name": name})
				self.cache.SetValueName(valueId, name)
			}
			card.ValuesRef[valueId] = true
		}
		for _, name := range seed.Capabilities {
			capabilityId, ok := capabilityIds[name]
			if !ok {
				capabilityId = NewId().String()
				capabilityIds[name] = capabilityId
				self.putWithTimeout(capabilityPath(capabilityId), keyed.Doc{"id": capabilityId, "name": name})
				self.cache.SetCapabilityName(capabilityId, name)
			}
			card.CapabilitiesRef[capabilityId] = true
		}

		doc, err := toDoc(card)
		if err != nil {
			glog.Errorf("[cs]seed card %q: %s\n", seed.RoleTitle, err)
			continue
		}
		self.cache.PutCard(card.Id, card)
		self.putWithTimeout(cardPath(card.Id), doc)
		self.relate(deckPath(deckId), "cards_ref", cardPath(card.Id))
		cardsRef[card.Id] = true
	}

	deckDoc := keyed.Doc{
		"id":   deckId,
		"name": deckFile.Name,
	}
	self.putWithTimeout(deckPath(deckId), deckDoc)
	glog.Infof("[cs]seeded deck %s (%q): %d cards, %d values, %d capabilities\n",
		deckId, deckFile.Name, len(cardsRef), len(valueIds), len(capabilityIds))
	return deckId
}
