package gamesync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"accordsim.com/gamesync/keyed"
)

func TestCreateGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	assert.NotEqual(t, nil, game)

	// immediately visible through the core
	fetched := service.Game(game.Id)
	assert.NotEqual(t, nil, fetched)
	assert.Equal(t, GameStatusActive, fetched.Status)
	assert.Equal(t, map[string]bool{"u1": true}, fetched.Players)
	assert.Equal(t, "Eco Village", fetched.Name)
	assert.Equal(t, "d1", fetched.DeckRef)

	// after the verification pass, a fresh read bypassing the cache
	// matches the optimistically cached value in every written field
	service.FlushVerify()
	doc, err := memory.Get(ctx, "games/"+game.Id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Eco Village", doc["name"])
	assert.Equal(t, "active", doc["status"])
	players := doc["players"].(keyed.Doc)
	assert.Equal(t, true, players["u1"])
}

func TestCreateGameValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memory := keyed.NewMemoryWithDefaults(ctx)
	counting := &countingStore{Store: memory}
	service := NewService(ctx, counting, testSettings())
	defer service.Close()

	assert.Equal(t, (*Game)(nil), service.CreateGame("", "d1", "u1"))
	assert.Equal(t, (*Game)(nil), service.CreateGame("Eco Village", "d1", ""))
	assert.Equal(t, int64(0), counting.writes())
}

func TestJoinGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	assert.NotEqual(t, nil, game)

	assert.Equal(t, true, service.JoinGame(game.Id, "u2"))

	fetched := service.Game(game.Id)
	assert.Equal(t, true, fetched.Players["u2"])
	// joined but unassigned
	assert.Equal(t, "", fetched.PlayerActorMap["u2"])

	service.FlushVerify()
	doc, err := memory.Get(ctx, "games/"+game.Id)
	assert.Equal(t, nil, err)
	players := doc["players"].(keyed.Doc)
	assert.Equal(t, true, players["u1"])
	assert.Equal(t, true, players["u2"])
}

func TestJoinGameDuplicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memory := keyed.NewMemoryWithDefaults(ctx)
	counting := &countingStore{Store: memory}
	service := NewService(ctx, counting, testSettings())
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	assert.Equal(t, true, service.JoinGame(game.Id, "u2"))
	service.FlushVerify()

	before := counting.writes()
	cachedBefore, _ := service.Cache().Game(game.Id)

	// a second join must not alter the cache or issue any store write
	assert.Equal(t, false, service.JoinGame(game.Id, "u2"))
	assert.Equal(t, before, counting.writes())
	cachedAfter, _ := service.Cache().Game(game.Id)
	assert.Equal(t, cachedBefore, cachedAfter)
}

func TestLeaveGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	service.JoinGame(game.Id, "u2")

	assert.Equal(t, true, service.LeaveGame(game.Id, "u2"))
	assert.Equal(t, false, service.LeaveGame(game.Id, "u2"))

	fetched := service.Game(game.Id)
	_, member := fetched.Players["u2"]
	assert.Equal(t, false, member)

	service.FlushVerify()
	doc, err := memory.Get(ctx, "games/"+game.Id)
	assert.Equal(t, nil, err)
	players := doc["players"].(keyed.Doc)
	_, member = players["u2"]
	assert.Equal(t, false, member)
}

func TestAssignRole(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	service.JoinGame(game.Id, "u2")
	actor := service.CreateActor(game.Id, ActorTypePerson, "")
	assert.NotEqual(t, nil, actor)

	assert.Equal(t, true, service.AssignRole(game.Id, "u2", actor.Id))

	fetched := service.Game(game.Id)
	assert.Equal(t, actor.Id, fetched.PlayerActorMap["u2"])
	assert.Equal(t, "u2", service.Actor(actor.Id).UserRef)

	found := service.ActorForUser(game.Id, "u2")
	assert.NotEqual(t, nil, found)
	assert.Equal(t, actor.Id, found.Id)

	service.FlushVerify()
	doc, err := memory.Get(ctx, "actors/"+actor.Id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "u2", doc["user_ref"])
}

func TestAssignRoleConflict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memory := keyed.NewMemoryWithDefaults(ctx)
	counting := &countingStore{Store: memory}
	service := NewService(ctx, counting, testSettings())
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	service.JoinGame(game.Id, "u2")
	service.JoinGame(game.Id, "u3")
	actor := service.CreateActor(game.Id, ActorTypePerson, "")
	assert.Equal(t, true, service.AssignRole(game.Id, "u3", actor.Id))
	service.FlushVerify()

	before := counting.writes()

	// the actor is already held by a different user
	assert.Equal(t, false, service.AssignRole(game.Id, "u2", actor.Id))
	assert.Equal(t, before, counting.writes())

	// a subsequent fetch sees no change
	service.FlushVerify()
	doc, err := memory.Get(ctx, "actors/"+actor.Id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "u3", doc["user_ref"])
}

func TestAssignRoleUnknownActor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	assert.Equal(t, false, service.AssignRole(game.Id, "u1", "no-such-actor"))
}

func TestSetGameStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")

	assert.Equal(t, true, service.SetGameStatus(game.Id, GameStatusPaused))
	assert.Equal(t, GameStatusPaused, service.Game(game.Id).Status)

	// illegal transition
	assert.Equal(t, false, service.SetGameStatus(game.Id, GameStatusSetup))
	assert.Equal(t, GameStatusPaused, service.Game(game.Id).Status)

	assert.Equal(t, true, service.SetGameStatus(game.Id, GameStatusCompleted))
	// completed is terminal
	assert.Equal(t, false, service.SetGameStatus(game.Id, GameStatusActive))
}

func TestGamesForUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	g1 := service.CreateGame("Eco Village", "d1", "u1")
	g2 := service.CreateGame("River Delta", "d1", "u2")
	service.JoinGame(g2.Id, "u1")

	games := service.GamesForUser("u1")
	assert.Equal(t, 2, len(games))
	gameIds := map[string]bool{}
	for _, game := range games {
		gameIds[game.Id] = true
	}
	assert.Equal(t, true, gameIds[g1.Id])
	assert.Equal(t, true, gameIds[g2.Id])

	assert.Equal(t, 1, len(service.GamesForUser("u2")))
}

func TestActorForUserIndexInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	service.JoinGame(game.Id, "u2")
	actor := service.CreateActor(game.Id, ActorTypePerson, "")
	service.AssignRole(game.Id, "u2", actor.Id)

	assert.NotEqual(t, nil, service.ActorForUser(game.Id, "u2"))

	// leaving the game invalidates the composite role index
	service.LeaveGame(game.Id, "u2")
	assert.Equal(t, (*Actor)(nil), service.ActorForUser(game.Id, "u2"))
}

func TestServiceWithoutStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service := NewService(ctx, nil, testSettings())
	defer service.Close()

	// every operation short-circuits with the failure signal, no panic
	assert.Equal(t, (*Game)(nil), service.CreateGame("Eco Village", "d1", "u1"))
	assert.Equal(t, false, service.JoinGame("g1", "u1"))
	assert.Equal(t, (*Game)(nil), service.Game("g1"))
}
