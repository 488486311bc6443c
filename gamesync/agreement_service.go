package gamesync

import (
	"errors"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// proposes an agreement between the given parties. every party must be an
// actor of the same game. returns nil when validation fails; no partial
// effects occur before validation passes.
func (self *Service) CreateAgreement(
	gameId string,
	creatorUserId string,
	title string,
	summary string,
	agreementType AgreementType,
	parties map[string]AgreementParty,
) (agreement *Agreement) {
	defer self.absorb("CreateAgreement")

	if !self.ready() {
		return nil
	}
	if title == "" || !agreementType.Valid() || len(parties) == 0 {
		glog.V(1).Infof("[ag]create: missing title, type or parties\n")
		return nil
	}
	if agreementType == AgreementTypeBilateral && len(parties) != 2 {
		glog.V(1).Infof("[ag]create: bilateral needs exactly 2 parties\n")
		return nil
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	game := self.Game(gameId)
	if game == nil || !game.Players[creatorUserId] {
		return nil
	}
	partyActors := map[string]*Actor{}
	for actorId := range parties {
		actor := self.Actor(actorId)
		if actor == nil || actor.GameRef != gameId {
			glog.V(1).Infof("[ag]create: party %s not an actor of %s\n", actorId, gameId)
			return nil
		}
		partyActors[actorId] = actor
	}

	now := nowMillis()
	agreement = &Agreement{
		Id:         NewId().String(),
		GameRef:    gameId,
		CreatorRef: creatorUserId,
		Title:      title,
		Summary:    summary,
		Type:       agreementType,
		Status:     AgreementStatusProposed,
		Parties:    parties,
		CreateTime: now,
		UpdateTime: now,
	}
	agreement.deriveCardsRef()

	doc, err := toDoc(agreement)
	if err != nil {
		glog.Errorf("[ag]create: %s\n", err)
		return nil
	}

	self.cache.PutAgreement(agreement.Id, agreement)
	if game.AgreementsRef == nil {
		game.AgreementsRef = map[string]bool{}
	}
	game.AgreementsRef[agreement.Id] = true
	self.cache.PutGame(gameId, game)
	for actorId, actor := range partyActors {
		if actor.AgreementsRef == nil {
			actor.AgreementsRef = map[string]bool{}
		}
		actor.AgreementsRef[agreement.Id] = true
		self.cache.PutActor(actorId, actor)
	}

	self.putWithTimeout(agreementPath(agreement.Id), doc)
	// paired inverse edges, fired after the primary write
	self.relate(gamePath(gameId), "agreements_ref", agreementPath(agreement.Id))
	for actorId := range parties {
		self.relate(actorPath(actorId), "agreements_ref", agreementPath(agreement.Id))
	}

	self.verify.schedule(
		agreementPath(agreement.Id),
		keyed.Doc{
			"game_ref": doc["game_ref"],
			"status":   doc["status"],
			"parties":  doc["parties"],
		},
		doc,
		self.settings.VerifyDelay,
	)
	return agreement
}

func (self *Service) Agreement(agreementId string) *Agreement {
	defer self.absorb("Agreement")

	if !self.ready() || agreementId == "" {
		return nil
	}
	if agreement, ok := self.cache.Agreement(agreementId); ok {
		return agreement
	}

	doc, err := self.store.Get(self.ctx, agreementPath(agreementId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[ag]get %s: %s\n", agreementId, err)
		}
		return nil
	}
	agreement, err := fromDoc[Agreement](doc)
	if err != nil {
		glog.Errorf("[ag]decode %s: %s\n", agreementId, err)
		return nil
	}
	agreement.Id = agreementId
	self.cache.PutAgreement(agreementId, agreement)
	return agreement
}

// replaces the agreement's party map. parties missing from the new map are
// removed, with their actor-side agreements_ref edge cleaned up; new
// parties are validated and linked. false when validation fails.
func (self *Service) UpdateAgreementParties(agreementId string, parties map[string]AgreementParty) (ok bool) {
	defer self.absorb("UpdateAgreementParties")

	if !self.ready() || len(parties) == 0 {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	agreement := self.Agreement(agreementId)
	if agreement == nil {
		return false
	}
	for actorId := range parties {
		actor := self.Actor(actorId)
		if actor == nil || actor.GameRef != agreement.GameRef {
			glog.V(1).Infof("[ag]update %s: party %s not an actor of %s\n", agreementId, actorId, agreement.GameRef)
			return false
		}
	}

	removed := []string{}
	for actorId := range agreement.Parties {
		if _, keep := parties[actorId]; !keep {
			removed = append(removed, actorId)
		}
	}
	added := []string{}
	for actorId := range parties {
		if _, had := agreement.Parties[actorId]; !had {
			added = append(added, actorId)
		}
	}

	oldCardsRef := agreement.CardsRef
	agreement.Parties = parties
	agreement.deriveCardsRef()
	agreement.UpdateTime = nowMillis()
	self.cache.PutAgreement(agreementId, agreement)

	doc, err := toDoc(agreement)
	if err != nil {
		glog.Errorf("[ag]update %s: %s\n", agreementId, err)
		return false
	}

	// tombstone the removed parties and stale card refs in the delta so
	// peers converge on the same map
	partiesDelta := keyed.Doc{}
	if partiesDoc, isMap := doc["parties"].(keyed.Doc); isMap {
		for actorId, party := range partiesDoc {
			partiesDelta[actorId] = party
		}
	}
	for _, actorId := range removed {
		partiesDelta[actorId] = nil
	}
	cardsDelta := keyed.Doc{}
	if cardsDoc, isMap := doc["cards_ref"].(keyed.Doc); isMap {
		for cardId := range cardsDoc {
			cardsDelta[cardId] = true
		}
	}
	for cardId := range oldCardsRef {
		if !agreement.CardsRef[cardId] {
			cardsDelta[cardId] = nil
		}
	}
	delta := keyed.Doc{
		"parties":     partiesDelta,
		"cards_ref":   cardsDelta,
		"update_time": doc["update_time"],
	}
	self.putWithTimeout(agreementPath(agreementId), delta)

	// relationship cleanup for parties that left, links for parties that
	// joined
	for _, actorId := range removed {
		self.unrelate(actorPath(actorId), "agreements_ref", agreementPath(agreementId))
		if actor := self.Actor(actorId); actor != nil {
			delete(actor.AgreementsRef, agreementId)
			self.cache.PutActor(actorId, actor)
		}
	}
	for _, actorId := range added {
		self.relate(actorPath(actorId), "agreements_ref", agreementPath(agreementId))
		if actor := self.Actor(actorId); actor != nil {
			if actor.AgreementsRef == nil {
				actor.AgreementsRef = map[string]bool{}
			}
			actor.AgreementsRef[agreementId] = true
			self.cache.PutActor(actorId, actor)
		}
	}

	self.verify.schedule(
		agreementPath(agreementId),
		keyed.Doc{"parties": doc["parties"]},
		delta,
		self.settings.VerifyDelay,
	)
	return true
}

// moves the agreement through its lifecycle. false on an illegal
// transition; agreements are only ever "deleted" this way.
func (self *Service) SetAgreementStatus(agreementId string, status AgreementStatus) (ok bool) {
	defer self.absorb("SetAgreementStatus")

	if !self.ready() {
		return false
	}

	self.applyMutex.Lock()
	defer self.applyMutex.Unlock()

	agreement := self.Agreement(agreementId)
	if agreement == nil {
		return false
	}
	if !agreement.Status.CanTransitionTo(status) {
		glog.V(1).Infof("[ag]%s: illegal transition %s -> %s\n", agreementId, agreement.Status, status)
		return false
	}

	agreement.Status = status
	agreement.UpdateTime = nowMillis()
	self.cache.PutAgreement(agreementId, agreement)

	delta := keyed.Doc{
		"status":      string(status),
		"update_time": agreement.UpdateTime,
	}
	self.putWithTimeout(agreementPath(agreementId), delta)
	self.verify.schedule(
		agreementPath(agreementId),
		keyed.Doc{"status": string(status)},
		delta,
		self.settings.VerifyDelay,
	)
	return true
}

// agreements currently in the game, from the game's agreements_ref edge
// set plus whatever the cache has seen
func (self *Service) AgreementsForGame(gameId string) []*Agreement {
	defer self.absorb("AgreementsForGame")

	if !self.ready() {
		return nil
	}
	game := self.Game(gameId)
	if game == nil {
		return nil
	}

	seen := map[string]bool{}
	agreements := []*Agreement{}
	for agreementId := range game.AgreementsRef {
		if agreement := self.Agreement(agreementId); agreement != nil && agreement.GameRef == gameId {
			agreements = append(agreements, agreement)
			seen[agreementId] = true
		}
	}
	for _, agreement := range self.cache.AgreementsForGame(gameId) {
		if !seen[agreement.Id] {
			agreements = append(agreements, agreement)
		}
	}
	return agreements
}
