package gamesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"accordsim.com/gamesync/keyed"
)

func TestSubscribeAgreements(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game, a1, a2 := setupAgreementGame(t, service)

	var mutex sync.Mutex
	var latest []*Agreement
	unsub := service.SubscribeAgreements(game.Id, func(agreements []*Agreement) {
		mutex.Lock()
		latest = agreements
		mutex.Unlock()
	})

	agreement := service.CreateAgreement(
		game.Id,
		"u1",
		"Water Sharing",
		"",
		AgreementTypeSymmetric,
		map[string]AgreementParty{
			a1.Id: {Obligation: "x", Benefit: "y"},
			a2.Id: {Obligation: "x", Benefit: "y"},
		},
	)
	assert.NotEqual(t, nil, agreement)

	mutex.Lock()
	found := false
	for _, a := range latest {
		if a.Id == agreement.Id {
			found = true
		}
	}
	mutex.Unlock()
	assert.Equal(t, true, found)

	unsub()
}

func TestSubscribeAgreementsConcurrentCreates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game, a1, a2 := setupAgreementGame(t, service)
	parties := map[string]AgreementParty{
		a1.Id: {Obligation: "x", Benefit: "y"},
		a2.Id: {Obligation: "x", Benefit: "y"},
	}

	var mutex sync.Mutex
	var latest []*Agreement
	unsub := service.SubscribeAgreements(game.Id, func(agreements []*Agreement) {
		mutex.Lock()
		latest = agreements
		mutex.Unlock()
	})
	defer unsub()

	// two clients race to create agreements. both creates must survive in
	// the converged collection.
	var wg sync.WaitGroup
	for _, title := range []string{"First", "Second"} {
		wg.Add(1)
		go func(title string) {
			defer wg.Done()
			created := service.CreateAgreement(game.Id, "u1", title, "", AgreementTypeSymmetric, parties)
			assert.NotEqual(t, nil, created)
		}(title)
	}
	wg.Wait()

	assert.Equal(t, 2, len(service.AgreementsForGame(game.Id)))
	mutex.Lock()
	assert.Equal(t, 2, len(latest))
	mutex.Unlock()
}

func TestSubscribeAgreementsUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game, a1, a2 := setupAgreementGame(t, service)
	agreement := service.CreateAgreement(
		game.Id,
		"u1",
		"Water Sharing",
		"",
		AgreementTypeSymmetric,
		map[string]AgreementParty{
			a1.Id: {Obligation: "x", Benefit: "y"},
			a2.Id: {Obligation: "x", Benefit: "y"},
		},
	)
	assert.NotEqual(t, nil, agreement)

	unsub := service.SubscribeAgreements(game.Id, func([]*Agreement) {})
	assert.Equal(t, 1, memory.SubscriberCount("games/"+game.Id))
	assert.Equal(t, 1, memory.SubscriberCount("agreements/"+agreement.Id))

	// tear-down must release the parent and every nested subscription
	unsub()
	assert.Equal(t, 0, memory.SubscriberCount("games/"+game.Id))
	assert.Equal(t, 0, memory.SubscriberCount("agreements/"+agreement.Id))

	// double unsubscribe is a no-op
	unsub()
	assert.Equal(t, 0, memory.SubscriberCount("games/"+game.Id))
}

func TestSubscribeActorCard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")
	actor := service.CreateActor(game.Id, ActorTypePerson, "Farmer")

	err := memory.Put(ctx, "cards/card1", keyed.Doc{
		"id":         "card1",
		"role_title": "Farmer",
		"category":   "person",
	})
	assert.Equal(t, nil, err)

	var mutex sync.Mutex
	var views []*CardView
	unsub := service.SubscribeActorCard(actor.Id, func(view *CardView) {
		mutex.Lock()
		views = append(views, view)
		mutex.Unlock()
	})
	defer unsub()

	// fires nil while unassigned
	mutex.Lock()
	assert.Equal(t, 1, len(views))
	assert.Equal(t, (*CardView)(nil), views[0])
	mutex.Unlock()

	ok := service.AssignCard(actor.Id, "card1")
	assert.Equal(t, true, ok)

	mutex.Lock()
	last := views[len(views)-1]
	mutex.Unlock()
	assert.NotEqual(t, nil, last)
	assert.Equal(t, "Farmer", last.Card.RoleTitle)
}

func TestSubscribeGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, _ := newTestService(ctx)
	defer service.Close()

	game, a1, a2 := setupAgreementGame(t, service)

	var mutex sync.Mutex
	var latest *GameView
	unsub := service.SubscribeGame(game.Id, func(view *GameView) {
		mutex.Lock()
		latest = view
		mutex.Unlock()
	})
	defer unsub()

	service.CreateAgreement(
		game.Id,
		"u1",
		"Water Sharing",
		"",
		AgreementTypeSymmetric,
		map[string]AgreementParty{
			a1.Id: {Obligation: "x", Benefit: "y"},
			a2.Id: {Obligation: "x", Benefit: "y"},
		},
	)
	service.SaveNodePosition(game.Id, a1.Id, "actor", 10, 20)

	mutex.Lock()
	view := latest
	mutex.Unlock()
	assert.NotEqual(t, nil, view)
	assert.Equal(t, game.Id, view.Game.Id)
	assert.Equal(t, 2, len(view.Actors))
	assert.Equal(t, 1, len(view.Agreements))
}

func TestSubscribePositions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, memory := newTestService(ctx)
	defer service.Close()

	game := service.CreateGame("Eco Village", "d1", "u1")

	var mutex sync.Mutex
	var latest []*NodePosition
	unsub := service.SubscribePositions(game.Id, []string{"n1", "n2"}, func(positions []*NodePosition) {
		mutex.Lock()
		latest = positions
		mutex.Unlock()
	})

	service.SaveNodePosition(game.Id, "n1", "actor", 1, 2)
	service.SaveNodePosition(game.Id, "n2", "agreement", 3, 4)

	mutex.Lock()
	assert.Equal(t, 2, len(latest))
	mutex.Unlock()

	unsub()
	assert.Equal(t, 0, memory.SubscriberCount("positions/"+game.Id+"/n1"))
	assert.Equal(t, 0, memory.SubscriberCount("positions/"+game.Id+"/n2"))
}

func TestDebouncerCoalesces(t *testing.T) {
	var mutex sync.Mutex
	count := 0
	debounce := newDebouncer(50*time.Millisecond, func() {
		mutex.Lock()
		count += 1
		mutex.Unlock()
	})
	defer debounce.stop()

	// first fires immediately, the burst behind it coalesces into one
	// trailing refresh
	for i := 0; i < 5; i += 1 {
		debounce.trigger()
	}

	mutex.Lock()
	assert.Equal(t, 1, count)
	mutex.Unlock()

	time.Sleep(200 * time.Millisecond)
	mutex.Lock()
	assert.Equal(t, 2, count)
	mutex.Unlock()
}

func TestDebouncerStop(t *testing.T) {
	var mutex sync.Mutex
	count := 0
	debounce := newDebouncer(50*time.Millisecond, func() {
		mutex.Lock()
		count += 1
		mutex.Unlock()
	})

	debounce.trigger()
	debounce.trigger()
	debounce.stop()

	time.Sleep(120 * time.Millisecond)
	mutex.Lock()
	assert.Equal(t, 1, count)
	mutex.Unlock()
}
