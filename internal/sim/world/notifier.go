package world

import (
	"context"
	"log/slog"
)

// Notifier is the outbound sink for scene changes. World calls it only after every lock
// taken by an operation has been released, so implementations may block or call back.
type Notifier interface {
	SendCreate(session SessionID, obj ObjectView)
	SendDestroy(session SessionID, id ObjectID)
	// SendContainmentUpdate reports a new container; arrangement is -1 for general contents.
	SendContainmentUpdate(session SessionID, id, containerID ObjectID, arrangement int)
	SendStackUpdate(session SessionID, id ObjectID, counter int)
}

type noopNotifier struct{}

func (noopNotifier) SendCreate(SessionID, ObjectView) {}
func (noopNotifier) SendDestroy(SessionID, ObjectID) {}
func (noopNotifier) SendContainmentUpdate(SessionID, ObjectID, ObjectID, int) {}
func (noopNotifier) SendStackUpdate(SessionID, ObjectID, int) {}

type NotificationKind uint8

const (
	NotifyCreate NotificationKind = iota + 1
	NotifyDestroy
	NotifyContainment
	NotifyStack
)

// Notification is one queued outbound message.
type Notification struct {
	Kind        NotificationKind
	Session     SessionID
	ID          ObjectID
	View        ObjectView
	ContainerID ObjectID
	Arrangement int
	Counter     int
}

// outbox collects notifications and log records while locks are held.
type outbox struct {
	items []Notification
	logs  []pendingLog
}

type pendingLog struct {
	level slog.Level
	msg   string
	args  []any
}

func (o *outbox) warn(msg string, args ...any) {
	o.logs = append(o.logs, pendingLog{level: slog.LevelWarn, msg: msg, args: args})
}

func (o *outbox) error(msg string, args ...any) {
	o.logs = append(o.logs, pendingLog{level: slog.LevelError, msg: msg, args: args})
}

func (o *outbox) flushLogs(l *slog.Logger) {
	for _, r := range o.logs {
		l.Log(context.Background(), r.level, r.msg, r.args...)
	}
	o.logs = nil
}

func (o *outbox) create(s SessionID, v ObjectView) {
	o.items = append(o.items, Notification{Kind: NotifyCreate, Session: s, ID: v.ID, View: v})
}

func (o *outbox) destroy(s SessionID, id ObjectID) {
	o.items = append(o.items, Notification{Kind: NotifyDestroy, Session: s, ID: id})
}

func (o *outbox) containment(s SessionID, id, container ObjectID, arrangement int) {
	o.items = append(o.items, Notification{Kind: NotifyContainment, Session: s, ID: id, ContainerID: container, Arrangement: arrangement})
}

func (o *outbox) stack(s SessionID, id ObjectID, counter int) {
	o.items = append(o.items, Notification{Kind: NotifyStack, Session: s, ID: id, Counter: counter})
}

func (o *outbox) dispatch(n Notifier) {
	for _, it := range o.items {
		switch it.Kind {
		case NotifyCreate:
			n.SendCreate(it.Session, it.View)
		case NotifyDestroy:
			n.SendDestroy(it.Session, it.ID)
		case NotifyContainment:
			n.SendContainmentUpdate(it.Session, it.ID, it.ContainerID, it.Arrangement)
		case NotifyStack:
			n.SendStackUpdate(it.Session, it.ID, it.Counter)
		}
	}
	o.items = nil
}
