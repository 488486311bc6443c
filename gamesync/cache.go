package gamesync

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
)

// write-through cache for previously seen entities. a hit returns data that
// was valid at some prior point in time; callers needing freshness
// subscribe or re-fetch. no eviction: the working set is one session's
// visible games.
//
// constructed once per session and injected into the service, never ambient
// module state, so sessions are isolated and tests deterministic.
type Cache struct {
	mutex sync.Mutex

	games      map[string]*Game
	actors     map[string]*Actor
	cards      map[string]*Card
	agreements map[string]*Agreement
	// "<gameId>/<nodeId>"
	positions map[string]*NodePosition

	// composite "<gameId>:<userId>" -> actor id, populated lazily.
	// must be invalidated whenever the corresponding player_actor_map
	// entry changes.
	roleActors map[string]string

	valueNames      map[string]string
	capabilityNames map[string]string
}

func NewCache() *Cache {
	return &Cache{
		games:           map[string]*Game{},
		actors:          map[string]*Actor{},
		cards:           map[string]*Card{},
		agreements:      map[string]*Agreement{},
		positions:       map[string]*NodePosition{},
		roleActors:      map[string]string{},
		valueNames:      map[string]string{},
		capabilityNames: map[string]string{},
	}
}

func roleKey(gameId string, userId string) string {
	return fmt.Sprintf("%s:%s", gameId, userId)
}

// entries are stored and returned as copies so concurrent callback chains
// never share mutable maps

func (self *Cache) PutGame(gameId string, game *Game) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	game = cloneGame(game)
	// normalize the id onto the stored value
	game.Id = gameId
	self.games[gameId] = game
}

func (self *Cache) Game(gameId string) (*Game, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	game, ok := self.games[gameId]
	if !ok {
		return nil, false
	}
	return cloneGame(game), true
}

func (self *Cache) Games() []*Game {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	games := make([]*Game, 0, len(self.games))
	for _, game := range self.games {
		games = append(games, cloneGame(game))
	}
	return games
}

func (self *Cache) PutActor(actorId string, actor *Actor) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	actor = cloneActor(actor)
	actor.Id = actorId
	self.actors[actorId] = actor
}

func (self *Cache) Actor(actorId string) (*Actor, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	actor, ok := self.actors[actorId]
	if !ok {
		return nil, false
	}
	return cloneActor(actor), true
}

func (self *Cache) ActorsForGame(gameId string) []*Actor {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	actors := []*Actor{}
	for _, actor := range self.actors {
		if actor.GameRef == gameId {
			actors = append(actors, cloneActor(actor))
		}
	}
	return actors
}

func (self *Cache) PutCard(cardId string, card *Card) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	card = cloneCard(card)
	card.Id = cardId
	self.cards[cardId] = card
}

func (self *Cache) Card(cardId string) (*Card, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	card, ok := self.cards[cardId]
	if !ok {
		return nil, false
	}
	return cloneCard(card), true
}

func (self *Cache) PutAgreement(agreementId string, agreement *Agreement) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	agreement = cloneAgreement(agreement)
	agreement.Id = agreementId
	self.agreements[agreementId] = agreement
}

func (self *Cache) Agreement(agreementId string) (*Agreement, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	agreement, ok := self.agreements[agreementId]
	if !ok {
		return nil, false
	}
	return cloneAgreement(agreement), true
}

func (self *Cache) AgreementsForGame(gameId string) []*Agreement {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	agreements := []*Agreement{}
	for _, agreement := range self.agreements {
		if agreement.GameRef == gameId {
			agreements = append(agreements, cloneAgreement(agreement))
		}
	}
	return agreements
}

func (self *Cache) PutPosition(gameId string, nodeId string, position *NodePosition) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	p := *position
	p.NodeId = nodeId
	p.GameRef = gameId
	self.positions[keyedPositionKey(gameId, nodeId)] = &p
}

func (self *Cache) Position(gameId string, nodeId string) (*NodePosition, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	position, ok := self.positions[keyedPositionKey(gameId, nodeId)]
	if !ok {
		return nil, false
	}
	p := *position
	return &p, true
}

func (self *Cache) PositionsForGame(gameId string) []*NodePosition {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	positions := []*NodePosition{}
	for _, position := range self.positions {
		if position.GameRef == gameId {
			p := *position
			positions = append(positions, &p)
		}
	}
	return positions
}

func (self *Cache) RoleActor(gameId string, userId string) (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	actorId, ok := self.roleActors[roleKey(gameId, userId)]
	return actorId, ok
}

func (self *Cache) SetRoleActor(gameId string, userId string, actorId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.roleActors[roleKey(gameId, userId)] = actorId
}

func (self *Cache) InvalidateRoleActor(gameId string, userId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.roleActors, roleKey(gameId, userId))
}

func (self *Cache) SetValueName(valueId string, name string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.valueNames[valueId] = name
}

func (self *Cache) ValueName(valueId string) (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	name, ok := self.valueNames[valueId]
	return name, ok
}

func (self *Cache) SetCapabilityName(capabilityId string, name string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.capabilityNames[capabilityId] = name
}

func (self *Cache) CapabilityName(capabilityId string) (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	name, ok := self.capabilityNames[capabilityId]
	return name, ok
}

func keyedPositionKey(gameId string, nodeId string) string {
	return fmt.Sprintf("%s/%s", gameId, nodeId)
}

func cloneGame(game *Game) *Game {
	g := *game
	g.Players = maps.Clone(game.Players)
	g.PlayerActorMap = maps.Clone(game.PlayerActorMap)
	g.ActorsRef = maps.Clone(game.ActorsRef)
	g.AgreementsRef = maps.Clone(game.AgreementsRef)
	return &g
}

func cloneActor(actor *Actor) *Actor {
	a := *actor
	a.AgreementsRef = maps.Clone(actor.AgreementsRef)
	return &a
}

func cloneCard(card *Card) *Card {
	c := *card
	c.ValuesRef = maps.Clone(card.ValuesRef)
	c.CapabilitiesRef = maps.Clone(card.CapabilitiesRef)
	c.Decks = maps.Clone(card.Decks)
	return &c
}

func cloneAgreement(agreement *Agreement) *Agreement {
	a := *agreement
	a.Parties = maps.Clone(agreement.Parties)
	a.CardsRef = maps.Clone(agreement.CardsRef)
	return &a
}
