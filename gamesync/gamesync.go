package gamesync

import (
	"encoding/json"

	"accordsim.com/gamesync/keyed"
)

// sync core between the game ui and the keyed document store.
// every mutation follows the same protocol: validate against cached state,
// apply optimistically to the cache, write to the store racing a timeout,
// fire secondary relationship writes, then schedule a delayed verification
// with a single corrective retry.

type Id = keyed.Id

func NewId() Id {
	return keyed.NewId()
}

// entity kinds are namespaced top-level collections
const (
	KindGames        = "games"
	KindActors       = "actors"
	KindCards        = "cards"
	KindAgreements   = "agreements"
	KindDecks        = "decks"
	KindUsers        = "users"
	KindValues       = "values"
	KindCapabilities = "capabilities"
	KindPositions    = "positions"
)

func gamePath(gameId string) string {
	return keyed.JoinPath(KindGames, gameId)
}

func actorPath(actorId string) string {
	return keyed.JoinPath(KindActors, actorId)
}

func cardPath(cardId string) string {
	return keyed.JoinPath(KindCards, cardId)
}

func agreementPath(agreementId string) string {
	return keyed.JoinPath(KindAgreements, agreementId)
}

func deckPath(deckId string) string {
	return keyed.JoinPath(KindDecks, deckId)
}

func userPath(userId string) string {
	return keyed.JoinPath(KindUsers, userId)
}

func valuePath(valueId string) string {
	return keyed.JoinPath(KindValues, valueId)
}

func capabilityPath(capabilityId string) string {
	return keyed.JoinPath(KindCapabilities, capabilityId)
}

// node positions are sharded per game+node to bound document size
func positionPath(gameId string, nodeId string) string {
	return keyed.JoinPath(KindPositions, gameId, nodeId)
}

// entity <-> document codecs. a json round trip keeps the stored shape and
// the struct shape in lockstep, and normalizes all numbers to float64 so
// verification compares like with like.

func toDoc(v any) (keyed.Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc keyed.Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc[T any](doc keyed.Doc) (*T, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonEqual(a any, b any) bool {
	aJson, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJson, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aJson) == string(bJson)
}
