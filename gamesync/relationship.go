package gamesync

import (
	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// the store has no multi-document transactions, so graph edges are
// simulated by writing the relationship from both endpoints as separate
// merges. callers pair `relate` calls for the inverse direction. a crash
// between the pair leaves a one-directional edge; `RepairGame` rebuilds the
// missing side from whatever direction survived.

// merges {leaf(toPath): true} into the edgeName collection at fromPath.
// the write is applied to the local replica immediately; network
// propagation is best effort like every other store write.
func (self *Service) relate(fromPath string, edgeName string, toPath string) {
	if err := self.store.SetEdge(self.ctx, fromPath, edgeName, toPath); err != nil {
		glog.Errorf("[rel]%s.%s -> %s: %s\n", fromPath, edgeName, toPath, err)
	}
}

// removes leaf(toPath) from the edgeName collection at fromPath with a
// tombstone merge
func (self *Service) unrelate(fromPath string, edgeName string, toPath string) {
	doc := keyed.Doc{
		edgeName: keyed.Doc{
			keyed.Leaf(toPath): nil,
		},
	}
	if err := self.store.Put(self.ctx, fromPath, doc); err != nil {
		glog.Errorf("[rel]%s.%s -/-> %s: %s\n", fromPath, edgeName, toPath, err)
	}
}

// re-walks one game's declared memberships, actors, agreements and deck
// reference and re-issues every relationship write. merges are idempotent,
// so this is safe to run repeatedly; it patches graphs that drifted out of
// sync under older client versions or a crash between paired edge writes.
// returns the number of writes issued, or -1 when the game is unknown.
func (self *Service) RepairGame(gameId string) int {
	defer self.absorb("RepairGame")

	if !self.ready() {
		return -1
	}
	game := self.Game(gameId)
	if game == nil {
		return -1
	}

	writes := 0
	issue := func(fromPath string, edgeName string, toPath string) {
		self.relate(fromPath, edgeName, toPath)
		writes += 1
	}

	for userId := range game.Players {
		issue(userPath(userId), "games_ref", gamePath(gameId))
		issue(gamePath(gameId), "players", userPath(userId))
	}
	for actorId := range game.ActorsRef {
		issue(gamePath(gameId), "actors_ref", actorPath(actorId))
		if actor := self.Actor(actorId); actor != nil {
			if actor.GameRef != gameId {
				// re-anchor the inverse reference
				self.putWithTimeout(actorPath(actorId), keyed.Doc{"game_ref": gameId})
				writes += 1
			}
			for agreementId := range actor.AgreementsRef {
				// the directional edge that survives on the actor side is
				// enough to re-anchor the agreement in the game
				issue(gamePath(gameId), "agreements_ref", agreementPath(agreementId))
			}
		}
	}
	for agreementId := range game.AgreementsRef {
		issue(gamePath(gameId), "agreements_ref", agreementPath(agreementId))
		if agreement := self.Agreement(agreementId); agreement != nil {
			for partyActorId := range agreement.Parties {
				issue(actorPath(partyActorId), "agreements_ref", agreementPath(agreementId))
			}
			for cardId := range agreement.CardsRef {
				issue(agreementPath(agreementId), "cards_ref", cardPath(cardId))
			}
		}
	}
	if game.DeckRef != "" {
		self.putWithTimeout(gamePath(gameId), keyed.Doc{"deck_ref": game.DeckRef})
		writes += 1
	}

	glog.Infof("[rel]repaired %s: %d writes\n", gameId, writes)
	return writes
}

// batch repair across games, used to patch data written by older
// application versions
func (self *Service) RepairGames(gameIds []string) int {
	writes := 0
	for _, gameId := range gameIds {
		if n := self.RepairGame(gameId); 0 < n {
			writes += n
		}
	}
	return writes
}
