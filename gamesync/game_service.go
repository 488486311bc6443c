package gamesync

import (
	"errors"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// creates a game owned by creatorUserId and playing deckId. the game is
// live immediately; the creator is its first player, unassigned. returns
// nil when validation fails.
func (self *Service) CreateGame(name string, deckId string, creatorUserId string) (game *Game) {
	defer self.absorb("CreateGame")

	if !self.ready() {
		return nil
	}
	if name == "" || creatorUserId == "" {
		glog.V(1).Infof("[gs]create game: missing name or creator\n")
		return nil
	}

	game = &Game{
		Id:             NewId().String(),
		Name:           name,
		CreatorRef:     creatorUserId,
		DeckRef:        deckId,
		Status:         GameStatusActive,
		CreateTime:     nowMillis(),
		Players:        map[string]bool{creatorUserId: true},
		PlayerActorMap: map[string]string{},
		ActorsRef:      map[string]bool{},
		AgreementsRef:  map[string]bool{},
	}

	doc, err := toDoc(game)
	if err != nil {
		glog.Errorf("[gs]create game: %s\n", err)
		return nil
	}

	self.cache.PutGame(game.Id, game)
	self.putWithTimeout(gamePath(game.Id), doc)
	self.relate(userPath(creatorUserId), "games_ref", gamePath(game.Id))
	self.verify.schedule(
		gamePath(game.Id),
		keyed.Doc{
			"name":    doc["name"],
			"status":  doc["status"],
			"players": doc["players"],
		},
		doc,
		self.settings.VerifyDelay,
	)
	return game
}

// cache first, then a store read that populates the cache
func (self *Service) Game(gameId string) *Game {
	defer self.absorb("Game")

	if !self.ready() || gameId == "" {
		return nil
	}
	if game, ok := self.cache.Game(gameId); ok {
		return game
	}

	doc, err := self.store.Get(self.ctx, gamePath(gameId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[gs]get game %s: %s\n", gameId, err)
		}
		return nil
	}
	game, err := fromDoc[Game](doc)
	if err != nil {
		glog.Errorf("[gs]decode game %s: %s\n", gameId, err)
		return nil
	}
	game.Id = gameId
	self.cache.PutGame(gameId, game)
	return game
}

// adds userId to the game's players, unassigned. false when the game is
// unknown or the user is already a member.
func (self *Service) JoinGame(gameId string, userId string) (ok bool) {
	defer self.absorb("JoinGame")

	if !self.ready() || userId == "" {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil {
		return false
	}
	if game.Players[userId] {
		glog.V(1).Infof("[gs]join %s: %s already a member\n", gameId, userId)
		return false
	}

	if game.Players == nil {
		game.Players = map[string]bool{}
	}
	game.Players[userId] = true
	self.cache.PutGame(gameId, game)

	delta := keyed.Doc{
		"players": keyed.Doc{userId: true},
	}
	self.putWithTimeout(gamePath(gameId), delta)
	self.relate(userPath(userId), "games_ref", gamePath(gameId))

	expectPlayers, _ := toDoc(game)
	self.verify.schedule(
		gamePath(gameId),
		keyed.Doc{"players": expectPlayers["players"]},
		delta,
		self.settings.VerifyDelayWide,
	)
	return true
}

// removes userId from the game, releasing any assigned actor. false when
// the user is not a member.
func (self *Service) LeaveGame(gameId string, userId string) (ok bool) {
	defer self.absorb("LeaveGame")

	if !self.ready() || userId == "" {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil || !game.Players[userId] {
		return false
	}

	actorId := game.PlayerActorMap[userId]

	delete(game.Players, userId)
	delete(game.PlayerActorMap, userId)
	self.cache.PutGame(gameId, game)
	self.cache.InvalidateRoleActor(gameId, userId)

	delta := keyed.Doc{
		"players":          keyed.Doc{userId: nil},
		"player_actor_map": keyed.Doc{userId: nil},
	}
	self.putWithTimeout(gamePath(gameId), delta)
	self.unrelate(userPath(userId), "games_ref", gamePath(gameId))

	if actorId != "" {
		if actor := self.Actor(actorId); actor != nil && actor.UserRef == userId {
			actor.UserRef = ""
			self.cache.PutActor(actorId, actor)
			self.putWithTimeout(actorPath(actorId), keyed.Doc{"user_ref": ""})
		}
	}

	expect, _ := toDoc(game)
	self.verify.schedule(
		gamePath(gameId),
		keyed.Doc{"players": expect["players"]},
		delta,
		self.settings.VerifyDelayWide,
	)
	return true
}

// assigns the game actor to userId. false when the game or actor is
// unknown, the user is not a member, the user already holds an actor, or
// the actor is already held by a different user. a false return leaves the
// cache untouched and issues no store write.
func (self *Service) AssignRole(gameId string, userId string, actorId string) (ok bool) {
	defer self.absorb("AssignRole")

	if !self.ready() || userId == "" || actorId == "" {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil || !game.Players[userId] {
		return false
	}
	if game.PlayerActorMap[userId] != "" {
		glog.V(1).Infof("[gs]assign %s: %s already holds an actor\n", gameId, userId)
		return false
	}
	actor := self.Actor(actorId)
	if actor == nil || actor.GameRef != gameId {
		return false
	}
	if actor.UserRef != "" && actor.UserRef != userId {
		glog.V(1).Infof("[gs]assign %s: actor %s held by another user\n", gameId, actorId)
		return false
	}

	actor.UserRef = userId
	self.cache.PutActor(actorId, actor)

	if game.PlayerActorMap == nil {
		game.PlayerActorMap = map[string]string{}
	}
	game.PlayerActorMap[userId] = actorId
	self.cache.PutGame(gameId, game)
	self.cache.SetRoleActor(gameId, userId, actorId)

	actorDelta := keyed.Doc{"user_ref": userId}
	gameDelta := keyed.Doc{
		"player_actor_map": keyed.Doc{userId: actorId},
	}
	self.putWithTimeout(actorPath(actorId), actorDelta)
	self.putWithTimeout(gamePath(gameId), gameDelta)
	self.relate(userPath(userId), "actors_ref", actorPath(actorId))

	expect, _ := toDoc(game)
	self.verify.schedule(actorPath(actorId), actorDelta, actorDelta, self.settings.VerifyDelayWide)
	self.verify.schedule(
		gamePath(gameId),
		keyed.Doc{"player_actor_map": expect["player_actor_map"]},
		gameDelta,
		self.settings.VerifyDelayWide,
	)
	return true
}

// the actor userId plays in gameId, via the composite role index
func (self *Service) ActorForUser(gameId string, userId string) *Actor {
	defer self.absorb("ActorForUser")

	if !self.ready() {
		return nil
	}
	if actorId, ok := self.cache.RoleActor(gameId, userId); ok {
		return self.Actor(actorId)
	}

	game := self.Game(gameId)
	if game == nil {
		return nil
	}
	actorId := game.PlayerActorMap[userId]
	if actorId == "" {
		return nil
	}
	actor := self.Actor(actorId)
	if actor != nil {
		// populate the index lazily on first successful lookup
		self.cache.SetRoleActor(gameId, userId, actorId)
	}
	return actor
}

// moves the game through its lifecycle. false on an illegal transition.
func (self *Service) SetGameStatus(gameId string, status GameStatus) (ok bool) {
	defer self.absorb("SetGameStatus")

	if !self.ready() {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil {
		return false
	}
	if !game.Status.CanTransitionTo(status) {
		glog.V(1).Infof("[gs]game %s: illegal transition %s -> %s\n", gameId, game.Status, status)
		return false
	}

	game.Status = status
	self.cache.PutGame(gameId, game)

	delta := keyed.Doc{"status": string(status)}
	self.putWithTimeout(gamePath(gameId), delta)
	self.verify.schedule(gamePath(gameId), delta, delta, self.settings.VerifyDelay)
	return true
}

// every game the user is a member of, resolved through the user's
// games_ref edge set
func (self *Service) GamesForUser(userId string) []*Game {
	defer self.absorb("GamesForUser")

	if !self.ready() || userId == "" {
		return nil
	}

	doc, err := self.store.Get(self.ctx, userPath(userId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[gs]get user %s: %s\n", userId, err)
		}
		// fall back to whatever the cache has seen
		games := []*Game{}
		for _, game := range self.cache.Games() {
			if game.Players[userId] {
				games = append(games, game)
			}
		}
		return games
	}

	games := []*Game{}
	if gamesRef, ok := doc["games_ref"].(keyed.Doc); ok {
		for gameId := range gamesRef {
			if game := self.Game(gameId); game != nil {
				games = append(games, game)
			}
		}
	}
	return games
}
