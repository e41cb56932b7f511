// Package intake consumes raw change-stream records, classifies them, and
// feeds routable events into the outbound delivery path.
package intake

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/syncbridge/errs"
	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
)

// ObjectType identifies the directory entity kind a record refers to.
type ObjectType string

const (
	ObjectTeam    ObjectType = "TEAM"
	ObjectMember  ObjectType = "MEMBER"
	ObjectUnknown ObjectType = "UNKNOWN"
)

// Action identifies the change applied to the entity.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionEnd     Action = "END"
	ActionUnknown Action = "UNKNOWN"
)

// Kind is the closed set of routable change events. Combinations outside the
// table classify as KindUnmatched and are dropped, never coerced.
type Kind int

const (
	KindUnmatched Kind = iota
	KindTeamCreated
	KindTeamUpdated
	KindTeamEnded
	KindMemberCreated
	KindMemberUpdated
	KindMemberEnded
)

var kindNames = map[Kind]string{
	KindUnmatched:     "unmatched",
	KindTeamCreated:   "team_created",
	KindTeamUpdated:   "team_updated",
	KindTeamEnded:     "team_ended",
	KindMemberCreated: "member_created",
	KindMemberUpdated: "member_updated",
	KindMemberEnded:   "member_ended",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unmatched"
}

// Routable reports whether the kind maps to an outbound delivery.
func (k Kind) Routable() bool {
	return k != KindUnmatched
}

// Removal reports whether the kind ends the entity's lifecycle, which maps to
// a record-store delete instead of an upsert.
func (k Kind) Removal() bool {
	return k == KindTeamEnded || k == KindMemberEnded
}

var kindTable = map[ObjectType]map[Action]Kind{
	ObjectTeam: {
		ActionCreate: KindTeamCreated,
		ActionUpdate: KindTeamUpdated,
		ActionEnd:    KindTeamEnded,
	},
	ObjectMember: {
		ActionCreate: KindMemberCreated,
		ActionUpdate: KindMemberUpdated,
		ActionEnd:    KindMemberEnded,
	},
}

// ParseObjectType matches raw case-insensitively against the known entity
// kinds. An unrecognized or absent value yields ObjectUnknown, not an error.
func ParseObjectType(raw string) ObjectType {
	switch ObjectType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ObjectTeam:
		return ObjectTeam
	case ObjectMember:
		return ObjectMember
	default:
		return ObjectUnknown
	}
}

// ParseAction matches raw case-insensitively against the known change actions.
func ParseAction(raw string) Action {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionCreate:
		return ActionCreate
	case ActionUpdate:
		return ActionUpdate
	case ActionEnd:
		return ActionEnd
	default:
		return ActionUnknown
	}
}

// KindOf resolves the event kind for an (object type, action) pair.
func KindOf(objectType ObjectType, action Action) Kind {
	actions, ok := kindTable[objectType]
	if !ok {
		return KindUnmatched
	}
	return actions[action]
}

// ClassifiedEvent is the transient result of classifying one raw record.
type ClassifiedEvent struct {
	RoutingKey string
	Kind       Kind
	Document   json.RawMessage
}

// Classify inspects one raw record. It returns a ClassifiedEvent for known
// kinds, an event with KindUnmatched for well-formed records outside the
// routing table, or a permanent error when the payload cannot be parsed or
// carries no routing identity.
func Classify(rec streambus.Record) (ClassifiedEvent, error) {
	kind := KindOf(
		ParseObjectType(rec.Header(streambus.HeaderObjectType)),
		ParseAction(rec.Header(streambus.HeaderAction)),
	)
	if !kind.Routable() {
		return ClassifiedEvent{Kind: KindUnmatched}, nil
	}

	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return ClassifiedEvent{}, errs.New("intake/classify", errs.CodeInvalidPayload,
			errs.WithMessage("record carries no routing key"))
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Value, &doc); err != nil {
		return ClassifiedEvent{}, errs.New("intake/classify", errs.CodeInvalidPayload,
			errs.WithMessage("unparseable payload"), errs.WithCause(err))
	}

	return ClassifiedEvent{
		RoutingKey: key,
		Kind:       kind,
		Document:   json.RawMessage(rec.Value),
	}, nil
}
