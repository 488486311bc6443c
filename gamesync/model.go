package gamesync

type GameStatus string

const (
	GameStatusCreated   GameStatus = "created"
	GameStatusSetup     GameStatus = "setup"
	GameStatusActive    GameStatus = "active"
	GameStatusPaused    GameStatus = "paused"
	GameStatusCompleted GameStatus = "completed"
)

// legal status transitions. games are never hard deleted; `completed` is
// terminal.
var gameStatusTransitions = map[GameStatus][]GameStatus{
	GameStatusCreated: {GameStatusSetup, GameStatusActive},
	GameStatusSetup:   {GameStatusActive},
	GameStatusActive:  {GameStatusPaused, GameStatusCompleted},
	GameStatusPaused:  {GameStatusActive, GameStatusCompleted},
}

func (self GameStatus) CanTransitionTo(next GameStatus) bool {
	for _, allowed := range gameStatusTransitions[self] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Game struct {
	Id         string     `json:"id"`
	Name       string     `json:"name"`
	CreatorRef string     `json:"creator_ref"`
	DeckRef    string     `json:"deck_ref"`
	Status     GameStatus `json:"status"`
	CreateTime int64      `json:"create_time"`
	// user id -> true
	Players map[string]bool `json:"players"`
	// user id -> actor id. absent means joined but unassigned.
	PlayerActorMap map[string]string `json:"player_actor_map"`
	// actor id -> true
	ActorsRef map[string]bool `json:"actors_ref"`
	// agreement id -> true
	AgreementsRef map[string]bool `json:"agreements_ref"`
}

type ActorType string

const (
	ActorTypePerson       ActorType = "person"
	ActorTypeOrganization ActorType = "organization"
	ActorTypeCommunity    ActorType = "community"
	ActorTypeEnvironment  ActorType = "environment"
)

func (self ActorType) Valid() bool {
	switch self {
	case ActorTypePerson, ActorTypeOrganization, ActorTypeCommunity, ActorTypeEnvironment:
		return true
	}
	return false
}

const ActorStatusActive = "active"

type Actor struct {
	Id string `json:"id"`
	// empty until a user is assigned
	UserRef string `json:"user_ref"`
	GameRef string `json:"game_ref"`
	// empty until a card is assigned
	CardRef    string    `json:"card_ref"`
	Type       ActorType `json:"type"`
	CustomName string    `json:"custom_name,omitempty"`
	Status     string    `json:"status"`
	// agreement id -> true
	AgreementsRef map[string]bool `json:"agreements_ref"`
	CreateTime    int64           `json:"create_time"`
}

// immutable role template seeded once per deck. the sync core only ever
// reads cards.
type Card struct {
	Id        string `json:"id"`
	RoleTitle string `json:"role_title"`
	Category  string `json:"category"`
	Backstory string `json:"backstory"`
	Goals     string `json:"goals"`
	// value id -> true
	ValuesRef map[string]bool `json:"values_ref"`
	// capability id -> true
	CapabilitiesRef map[string]bool `json:"capabilities_ref"`
	// deck id -> true
	Decks map[string]bool `json:"decks"`
}

type AgreementType string

const (
	AgreementTypeBilateral    AgreementType = "bilateral"
	AgreementTypeMultilateral AgreementType = "multilateral"
	AgreementTypeSymmetric    AgreementType = "symmetric"
	AgreementTypeAsymmetric   AgreementType = "asymmetric"
)

func (self AgreementType) Valid() bool {
	switch self {
	case AgreementTypeBilateral, AgreementTypeMultilateral, AgreementTypeSymmetric, AgreementTypeAsymmetric:
		return true
	}
	return false
}

type AgreementStatus string

const (
	AgreementStatusProposed  AgreementStatus = "proposed"
	AgreementStatusAccepted  AgreementStatus = "accepted"
	AgreementStatusRejected  AgreementStatus = "rejected"
	AgreementStatusCompleted AgreementStatus = "completed"
)

// agreements are "deleted" only by status transition
var agreementStatusTransitions = map[AgreementStatus][]AgreementStatus{
	AgreementStatusProposed: {AgreementStatusAccepted, AgreementStatusRejected},
	AgreementStatusAccepted: {AgreementStatusCompleted},
}

func (self AgreementStatus) CanTransitionTo(next AgreementStatus) bool {
	for _, allowed := range agreementStatusTransitions[self] {
		if allowed == next {
			return true
		}
	}
	return false
}

type AgreementParty struct {
	CardRef    string `json:"card_ref"`
	Obligation string `json:"obligation"`
	Benefit    string `json:"benefit"`
}

type Agreement struct {
	Id         string          `json:"id"`
	GameRef    string          `json:"game_ref"`
	CreatorRef string          `json:"creator_ref"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	Type       AgreementType   `json:"type"`
	Status     AgreementStatus `json:"status"`
	// actor id -> party terms
	Parties map[string]AgreementParty `json:"parties"`
	// card id -> true, derived from parties
	CardsRef   map[string]bool `json:"cards_ref"`
	CreateTime int64           `json:"create_time"`
	UpdateTime int64           `json:"update_time"`
}

func (self *Agreement) deriveCardsRef() {
	cardsRef := map[string]bool{}
	for _, party := range self.Parties {
		if party.CardRef != "" {
			cardsRef[party.CardRef] = true
		}
	}
	self.CardsRef = cardsRef
}

// ui layout cache, independently writable without touching the entities
type NodePosition struct {
	NodeId     string  `json:"node_id"`
	GameRef    string  `json:"game_ref"`
	NodeType   string  `json:"node_type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	UpdateTime int64   `json:"update_time"`
}

// view types keep ui enrichment separate from the persisted entity shape

type CardView struct {
	Card            *Card
	ValueNames      []string
	CapabilityNames []string
}

type GameView struct {
	Game       *Game
	Actors     []*Actor
	Agreements []*Agreement
	Positions  []*NodePosition
}
