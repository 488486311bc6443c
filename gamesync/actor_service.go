package gamesync

import (
	"errors"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// creates an unowned actor in the game. returns nil when the game is
// unknown or the type is invalid.
func (self *Service) CreateActor(gameId string, actorType ActorType, customName string) (actor *Actor) {
	defer self.absorb("CreateActor")

	if !self.ready() {
		return nil
	}
	if !actorType.Valid() {
		glog.V(1).Infof("[as]create actor: invalid type %q\n", actorType)
		return nil
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil {
		return nil
	}

	actor = &Actor{
		Id:            NewId().String(),
		GameRef:       gameId,
		Type:          actorType,
		CustomName:    customName,
		Status:        ActorStatusActive,
		AgreementsRef: map[string]bool{},
		CreateTime:    nowMillis(),
	}

	doc, err := toDoc(actor)
	if err != nil {
		glog.Errorf("[as]create actor: %s\n", err)
		return nil
	}

	self.cache.PutActor(actor.Id, actor)
	if game.ActorsRef == nil {
		game.ActorsRef = map[string]bool{}
	}
	game.ActorsRef[actor.Id] = true
	self.cache.PutGame(gameId, game)

	self.putWithTimeout(actorPath(actor.Id), doc)
	// paired edges: actor.game_ref is in the primary doc, the inverse is a
	// separate merge on the game
	self.relate(gamePath(gameId), "actors_ref", actorPath(actor.Id))

	self.verify.schedule(
		actorPath(actor.Id),
		keyed.Doc{"game_ref": gameId, "type": string(actorType)},
		doc,
		self.settings.VerifyDelay,
	)
	return actor
}

type ActorSeed struct {
	Type       ActorType
	CustomName string
	CardId     string
}

// batch actor seeding when a game is set up from a deck. actors that fail
// validation are skipped, not fatal.
func (self *Service) SeedActors(gameId string, seeds []ActorSeed) []*Actor {
	defer self.absorb("SeedActors")

	actors := []*Actor{}
	for _, seed := range seeds {
		actor := self.CreateActor(gameId, seed.Type, seed.CustomName)
		if actor == nil {
			continue
		}
		if seed.CardId != "" {
			self.AssignCard(actor.Id, seed.CardId)
			actor = self.Actor(actor.Id)
		}
		actors = append(actors, actor)
	}
	return actors
}

func (self *Service) Actor(actorId string) *Actor {
	defer self.absorb("Actor")

	if !self.ready() || actorId == "" {
		return nil
	}
	if actor, ok := self.cache.Actor(actorId); ok {
		return actor
	}

	doc, err := self.store.Get(self.ctx, actorPath(actorId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[as]get actor %s: %s\n", actorId, err)
		}
		return nil
	}
	actor, err := fromDoc[Actor](doc)
	if err != nil {
		glog.Errorf("[as]decode actor %s: %s\n", actorId, err)
		return nil
	}
	actor.Id = actorId
	self.cache.PutActor(actorId, actor)
	return actor
}

// assigns a role card to the actor. false when either side is unknown or
// the actor already has a card.
func (self *Service) AssignCard(actorId string, cardId string) (ok bool) {
	defer self.absorb("AssignCard")

	if !self.ready() || cardId == "" {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	actor := self.Actor(actorId)
	if actor == nil {
		return false
	}
	if actor.CardRef != "" {
		glog.V(1).Infof("[as]actor %s already has card %s\n", actorId, actor.CardRef)
		return false
	}
	if card := self.Card(cardId); card == nil {
		return false
	}

	actor.CardRef = cardId
	self.cache.PutActor(actorId, actor)

	delta := keyed.Doc{"card_ref": cardId}
	self.putWithTimeout(actorPath(actorId), delta)
	self.verify.schedule(actorPath(actorId), delta, delta, self.settings.VerifyDelay)
	return true
}

// actors currently in the game, from the cache plus the game's actors_ref
// edge set
func (self *Service) ActorsForGame(gameId string) []*Actor {
	defer self.absorb("ActorsForGame")

	if !self.ready() {
		return nil
	}
	game := self.Game(gameId)
	if game == nil {
		return nil
	}

	seen := map[string]bool{}
	actors := []*Actor{}
	for actorId := range game.ActorsRef {
		if actor := self.Actor(actorId); actor != nil && actor.GameRef == gameId {
			actors = append(actors, actor)
			seen[actorId] = true
		}
	}
	for _, actor := range self.cache.ActorsForGame(gameId) {
		if !seen[actor.Id] {
			actors = append(actors, actor)
		}
	}
	return actors
}
