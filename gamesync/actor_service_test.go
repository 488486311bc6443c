package gamesync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"accordsim.com/gamesync/keyed"
)

func TestCreateActor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	actor := service.CreateActor(game.Id, ActorTypeOrganization, "Water Coop")
	assert.NotEqual(t, nil, actor)
	assert.Equal(t, game.Id, actor.GameRef)
	assert.Equal(t, ActorStatusActive, actor.Status)
	service.FlushVerify()

	// both directions of the membership edge are in the store
	actorDoc, err := memory.Get(ctx, "actors/"+actor.Id)
	assert.Equal(t, nil, err)
	assert.Equal(t, game.Id, actorDoc["game_ref"])

	gameDoc, err := memory.Get(ctx, "games/"+game.Id)
	assert.Equal(t, nil, err)
	actorsRef := gameDoc["actors_ref"].(keyed.Doc)
	assert.Equal(t, true, actorsRef[actor.Id])

	// unknown game and invalid type both fail
	assert.Equal(t, (*Actor)(nil), service.CreateActor("missing", ActorTypePerson, ""))
	assert.Equal(t, (*Actor)(nil), service.CreateActor(game.Id, ActorType("robot"), ""))
}

func TestAssignCard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	actor := service.CreateActor(game.Id, ActorTypePerson, "")

	err := memory.Put(ctx, "cards/card1", keyed.Doc{
		"id":         "card1",
		"role_title": "Farmer",
	})
	assert.Equal(t, nil, err)

	// unknown card fails without mutating the actor
	assert.Equal(t, false, service.AssignCard(actor.Id, "missing"))
	assert.Equal(t, "", service.Actor(actor.Id).CardRef)

	assert.Equal(t, true, service.AssignCard(actor.Id, "card1"))
	service.FlushVerify()
	assert.Equal(t, "card1", service.Actor(actor.Id).CardRef)

	actorDoc, err := memory.Get(ctx, "actors/"+actor.Id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "card1", actorDoc["card_ref"])

	// an assigned actor cannot take a second card
	err = memory.Put(ctx, "cards/card2", keyed.Doc{"id": "card2", "role_title": "Mayor"})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, service.AssignCard(actor.Id, "card2"))
	assert.Equal(t, "card1", service.Actor(actor.Id).CardRef)
}

func TestSeedActors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	err := memory.Put(ctx, "cards/card1", keyed.Doc{"id": "card1", "role_title": "Farmer"})
	assert.Equal(t, nil, err)

	actors := service.SeedActors(game.Id, []ActorSeed{
		{Type: ActorTypePerson, CustomName: "Ana", CardId: "card1"},
		{Type: ActorTypeEnvironment},
		{Type: ActorType("robot")},
	})

	// the invalid seed is skipped, the rest land with their cards
	assert.Equal(t, 2, len(actors))
	assert.Equal(t, "card1", actors[0].CardRef)
	assert.Equal(t, "", actors[1].CardRef)
	assert.Equal(t, 2, len(service.ActorsForGame(game.Id)))
}
