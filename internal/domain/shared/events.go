package shared

import (
	"time"
)

// EventType names a committed change to a class ledger.
type EventType string

const (
	EventPointsAdjusted   EventType = "points.adjusted"
	EventStudentSaved     EventType = "student.saved"
	EventStudentDeleted   EventType = "student.deleted"
	EventStudentsImported EventType = "student.imported"
	EventRewardRedeemed   EventType = "reward.redeemed"
)

// Event is published after the class checkpoint that produced it has been
// stored. AggregateID is always the class id.
type Event interface {
	EventType() EventType
	AggregateID() string
	OccurredAt() time.Time
}

// header implements Event for the concrete event types.
type header struct {
	kind    EventType
	classID string
	at      time.Time
}

func newHeader(kind EventType, classID string) header {
	return header{kind: kind, classID: classID, at: time.Now().UTC()}
}

func (h header) EventType() EventType  { return h.kind }
func (h header) AggregateID() string   { return h.classID }
func (h header) OccurredAt() time.Time { return h.at }

// PointsAdjustedEvent is emitted once per student whose balance actually
// changed; a clamped no-op adjustment emits nothing.
type PointsAdjustedEvent struct {
	header
	StudentID string
	Category  string
	Delta     int
	Operator  string
}

func NewPointsAdjustedEvent(classID, studentID, category string, delta int, operator string) PointsAdjustedEvent {
	return PointsAdjustedEvent{
		header:    newHeader(EventPointsAdjusted, classID),
		StudentID: studentID,
		Category:  category,
		Delta:     delta,
		Operator:  operator,
	}
}

// StudentSavedEvent follows a create or a profile edit.
type StudentSavedEvent struct {
	header
	StudentID string
	Created   bool
}

func NewStudentSavedEvent(classID, studentID string, created bool) StudentSavedEvent {
	return StudentSavedEvent{
		header:    newHeader(EventStudentSaved, classID),
		StudentID: studentID,
		Created:   created,
	}
}

// StudentDeletedEvent follows the removal of a student and its log.
type StudentDeletedEvent struct {
	header
	StudentID      string
	RemovedEntries int
}

func NewStudentDeletedEvent(classID, studentID string, removedEntries int) StudentDeletedEvent {
	return StudentDeletedEvent{
		header:         newHeader(EventStudentDeleted, classID),
		StudentID:      studentID,
		RemovedEntries: removedEntries,
	}
}

// StudentsImportedEvent summarizes an import run that touched at least one
// student.
type StudentsImportedEvent struct {
	header
	Created, Updated, Skipped, Failed int
}

func NewStudentsImportedEvent(classID string, created, updated, skipped, failed int) StudentsImportedEvent {
	return StudentsImportedEvent{
		header:  newHeader(EventStudentsImported, classID),
		Created: created,
		Updated: updated,
		Skipped: skipped,
		Failed:  failed,
	}
}

// RewardRedeemedEvent records exchange credit spent on a reward.
type RewardRedeemedEvent struct {
	header
	StudentID string
	RewardID  string
	Cost      int
}

func NewRewardRedeemedEvent(classID, studentID, rewardID string, cost int) RewardRedeemedEvent {
	return RewardRedeemedEvent{
		header:    newHeader(EventRewardRedeemed, classID),
		StudentID: studentID,
		RewardID:  rewardID,
		Cost:      cost,
	}
}

// EventHandler reacts to one event. Its error is logged by the bus and
// never reaches the publisher.
type EventHandler func(event Event) error

// EventPublisher is what the command handlers depend on.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for one type or for every type.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
