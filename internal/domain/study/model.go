package study

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// MaxResultLength is the longest result text accepted, in characters.
const MaxResultLength = 300

type Kind string

const (
	KindCytology Kind = "cytology"
	KindBiopsy   Kind = "biopsy"
)

// ParseKind accepts the canonical names and their Spanish equivalents.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cytology", "citologia", "citología":
		return KindCytology, nil
	case "biopsy", "biopsia":
		return KindBiopsy, nil
	}
	return "", apperr.InvalidField("kind", "unknown study kind %q", raw)
}

// State is a lifecycle stage. States are strictly ordered.
type State string

const (
	StateOrdered   State = "ordered"
	StateSent      State = "sent"
	StatePaid      State = "paid"
	StateReceived  State = "received"
	StateDelivered State = "delivered"
)

// States lists every state in lifecycle order.
var States = []State{StateOrdered, StateSent, StatePaid, StateReceived, StateDelivered}

var stateAliases = map[string]State{
	"ordered":   StateOrdered,
	"ordenado":  StateOrdered,
	"sent":      StateSent,
	"enviado":   StateSent,
	"paid":      StatePaid,
	"pagado":    StatePaid,
	"received":  StateReceived,
	"recibido":  StateReceived,
	"delivered": StateDelivered,
	"entregado": StateDelivered,
}

// ParseState accepts the canonical names and their Spanish equivalents.
func ParseState(raw string) (State, error) {
	if s, ok := stateAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s, nil
	}
	return "", apperr.InvalidField("state", "unknown state %q", raw)
}

// Index returns the position of s in the lifecycle, or -1.
func (s State) Index() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

func (s State) Valid() bool { return s.Index() >= 0 }

// Before reports whether s comes strictly before o.
func (s State) Before(o State) bool { return s.Index() < o.Index() }

// AtOrBefore reports whether s is o or comes before it.
func (s State) AtOrBefore(o State) bool { return s.Index() <= o.Index() }

// Predecessor returns the state right before s.
func (s State) Predecessor() (State, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return States[i-1], true
}

// Later returns the states after s, in order.
func (s State) Later() []State {
	i := s.Index()
	if i < 0 {
		return nil
	}
	return States[i+1:]
}

// RequiresCenter reports whether reaching s needs a histology center.
func (s State) RequiresCenter() bool {
	return !s.Before(StateSent)
}

// AcceptsResult reports whether a result may be recorded in state s.
func (s State) AcceptsResult() bool {
	return s == StateReceived || s == StateDelivered
}

// Study is a laboratory sample ordered during a visit.
type Study struct {
	ID             uuid.UUID  `json:"id"`
	VisitID        uuid.UUID  `json:"visit_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	CenterID       *uuid.UUID `json:"center_id,omitempty"`
	Kind           Kind       `json:"kind"`
	Subtype        string     `json:"subtype"`
	State          State      `json:"state"`
	OrderedAt      time.Time  `json:"ordered_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	Result         *string    `json:"result,omitempty"`
	ResultEditedAt *time.Time `json:"result_edited_at,omitempty"`
	Overridden     bool       `json:"overridden"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// stateField binds a state to the timestamp that marks it.
type stateField struct {
	state State
	get   func(s *Study) *time.Time
	set   func(s *Study, t *time.Time)
}

// stateFields is the only place that knows which timestamp belongs to which
// state. ordered is never cleared, so its setter ignores nil.
var stateFields = []stateField{
	{
		state: StateOrdered,
		get:   func(s *Study) *time.Time { return &s.OrderedAt },
		set: func(s *Study, t *time.Time) {
			if t != nil {
				s.OrderedAt = *t
			}
		},
	},
	{
		state: StateSent,
		get:   func(s *Study) *time.Time { return s.SentAt },
		set:   func(s *Study, t *time.Time) { s.SentAt = t },
	},
	{
		state: StatePaid,
		get:   func(s *Study) *time.Time { return s.PaidAt },
		set:   func(s *Study, t *time.Time) { s.PaidAt = t },
	},
	{
		state: StateReceived,
		get:   func(s *Study) *time.Time { return s.ReceivedAt },
		set:   func(s *Study, t *time.Time) { s.ReceivedAt = t },
	},
	{
		state: StateDelivered,
		get:   func(s *Study) *time.Time { return s.DeliveredAt },
		set:   func(s *Study, t *time.Time) { s.DeliveredAt = t },
	},
}

func fieldFor(state State) stateField {
	return stateFields[state.Index()]
}

// Timestamp returns the time state was marked, or nil.
func (s *Study) Timestamp(state State) *time.Time {
	if !state.Valid() {
		return nil
	}
	return fieldFor(state).get(s)
}

// Marked reports whether state has a timestamp.
func (s *Study) Marked(state State) bool {
	return s.Timestamp(state) != nil
}

func (s *Study) setTimestamp(state State, t *time.Time) {
	fieldFor(state).set(s, t)
}

// HasResult reports whether a non-empty result is stored.
func (s *Study) HasResult() bool {
	return s.Result != nil && *s.Result != ""
}

// Center is an external histology laboratory.
type Center struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Contact *string   `json:"contact,omitempty"`
}

// Row is a study joined with the names shown in lists.
type Row struct {
	Study
	PatientName string `json:"patient_name"`
	NationalID  string `json:"national_id"`
	CenterName  string `json:"center_name,omitempty"`
}

// EventPath tells how a study was changed.
type EventPath string

const (
	PathTransition EventPath = "transition"
	PathRetraction EventPath = "retraction"
	PathOverride   EventPath = "override"
	PathResult     EventPath = "result"
	PathCenter     EventPath = "center"
)

// Event is one entry of a study's audit trail.
type Event struct {
	ID        uuid.UUID `json:"id"`
	StudyID   uuid.UUID `json:"study_id"`
	Path      EventPath `json:"path"`
	FromState State     `json:"from_state,omitempty"`
	ToState   State     `json:"to_state"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Order selects the sort of List.
type Order int

const (
	// OrderRecent sorts by ordered_at, newest first.
	OrderRecent Order = iota
	// OrderStatePriority puts open studies first, by state, then newest first.
	OrderStatePriority
)

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Query    string
	State    State
	Kind     Kind
	CenterID *uuid.UUID
	From     *time.Time
	To       *time.Time
	OpenOnly bool
	Order    Order
	Limit    int
	Offset   int
}

// Outcome is what a single-study mutation reports back.
type Outcome struct {
	Study    *Study
	State    State
	Affected []State
	Changes  events.ChangeSet
}

// Violation describes why a study breaks a lifecycle invariant.
type Violation struct {
	StudyID uuid.UUID `json:"study_id"`
	Reasons []string  `json:"reasons"`
}
