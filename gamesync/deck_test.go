package gamesync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

const testDeckYaml = `
name: Village Deck
cards:
  - role_title: Farmer
    category: person
    backstory: Works the east fields.
    goals: Keep the soil healthy.
    values: [Stewardship, Community]
    capabilities: [Farming]
  - role_title: Water Cooperative
    category: organization
    values: [Community]
    capabilities: [Negotiation, Farming]
`

func TestParseDeckFile(t *testing.T) {
	deckFile, err := ParseDeckFile([]byte(testDeckYaml))
	assert.Equal(t, nil, err)
	assert.Equal(t, "Village Deck", deckFile.Name)
	assert.Equal(t, 2, len(deckFile.Cards))
	assert.Equal(t, "Farmer", deckFile.Cards[0].RoleTitle)
	assert.Equal(t, 2, len(deckFile.Cards[0].Values))
}

func TestParseDeckFileInvalid(t *testing.T) {
	_, err := ParseDeckFile([]byte("not: [valid"))
	assert.NotEqual(t, nil, err)

	_, err = ParseDeckFile([]byte("cards:\n  - role_title: X\n"))
	assert.NotEqual(t, nil, err)

	_, err = ParseDeckFile([]byte("name: Empty Deck\ncards: []\n"))
	assert.NotEqual(t, nil, err)

	_, err = ParseDeckFile([]byte("name: Bad Card\ncards:\n  - category: person\n"))
	assert.NotEqual(t, nil, err)
}

func TestSeedDeck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	deckFile, err := ParseDeckFile([]byte(testDeckYaml))
	assert.Equal(t, nil, err)

	deckId := service.SeedDeck(deckFile)
	assert.NotEqual(t, "", deckId)

	deckDoc, err := memory.Get(ctx, "decks/"+deckId)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Village Deck", deckDoc["name"])
	cardsRef := deckDoc["cards_ref"].(map[string]any)
	assert.Equal(t, 2, len(cardsRef))

	// shared names are deduplicated into one document per name
	values := 0
	capabilities := 0
	for _, path := range memory.Paths() {
		switch {
		case len(path) > len("values/") && path[:len("values/")] == "values/":
			values += 1
		case len(path) > len("capabilities/") && path[:len("capabilities/")] == "capabilities/":
			capabilities += 1
		}
	}
	assert.Equal(t, 2, values)
	assert.Equal(t, 2, capabilities)

	// the seeded cards resolve to full views with sorted names
	for cardId := range cardsRef {
		view := service.CardView(cardId)
		assert.NotEqual(t, nil, view)
		if view.Card.RoleTitle == "Farmer" {
			assert.Equal(t, []string{"Community", "Stewardship"}, view.ValueNames)
			assert.Equal(t, []string{"Farming"}, view.CapabilityNames)
		}
	}
}

func TestSeedDeckNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	assert.Equal(t, "", service.SeedDeck(nil))
}
