package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/store"
	"github.com/samber/lo"
)

var (
	ErrSelfConnection   = errors.New("cannot connect to yourself")
	ErrAlreadyConnected = errors.New("already connected")
	ErrRequestPending   = errors.New("connection request already pending")
	ErrNoPendingRequest = errors.New("no pending connection request")
	ErrNotConnected     = errors.New("not connected")
)

const (
	connectionsField     = "connections"
	pendingSentField     = "pendingSent"
	pendingReceivedField = "pendingReceived"
)

var connectionFields = []string{connectionsField, pendingSentField, pendingReceivedField}

type side struct {
	profile contract.Profile
	uid     string
	coll    string
}

// link is the relation between two participants as recorded on either
// profile. Both profiles are read, so an entry that only one side still
// carries counts.
type link struct {
	connected bool
	sent      bool // me asked other
	received  bool // other asked me
}

func linkOf(me, other side) link {
	return link{
		connected: lo.Contains(me.profile.Connections, other.uid) || lo.Contains(other.profile.Connections, me.uid),
		sent:      lo.Contains(me.profile.PendingSent, other.uid) || lo.Contains(other.profile.PendingReceived, me.uid),
		received:  lo.Contains(me.profile.PendingReceived, other.uid) || lo.Contains(other.profile.PendingSent, me.uid),
	}
}

// The two profiles are written one after the other. Every operation
// rewrites all three sets on both sides, so a failure between the writes
// is settled by the next operation on the same pair.

// RequestConnection records a pending request from me to otherUID. An id
// never sits in more than one of connections, pendingSent and
// pendingReceived.
func (r *Repository) RequestConnection(ctx context.Context, me Ref, otherUID string) error {
	a, b, err := r.pair(ctx, me, otherUID)
	if err != nil {
		return err
	}
	l := linkOf(a, b)
	switch {
	case l.connected:
		return r.settleAnd(ctx, ErrAlreadyConnected, a, connectionsField, b, connectionsField)
	case l.sent:
		return r.settleAnd(ctx, ErrRequestPending, a, pendingSentField, b, pendingReceivedField)
	case l.received:
		return r.settleAnd(ctx, ErrRequestPending, a, pendingReceivedField, b, pendingSentField)
	}
	return r.settle(ctx, a, pendingSentField, b, pendingReceivedField)
}

func (r *Repository) AcceptConnection(ctx context.Context, me Ref, otherUID string) error {
	a, b, err := r.pair(ctx, me, otherUID)
	if err != nil {
		return err
	}
	l := linkOf(a, b)
	switch {
	case l.connected:
		return r.settleAnd(ctx, ErrAlreadyConnected, a, connectionsField, b, connectionsField)
	case !l.received:
		return ErrNoPendingRequest
	}
	return r.settle(ctx, a, connectionsField, b, connectionsField)
}

func (r *Repository) DeclineConnection(ctx context.Context, me Ref, otherUID string) error {
	a, b, err := r.pair(ctx, me, otherUID)
	if err != nil {
		return err
	}
	if l := linkOf(a, b); l.connected || !l.received {
		return ErrNoPendingRequest
	}
	return r.settle(ctx, a, "", b, "")
}

// RemoveConnection drops an established connection or withdraws a request
// me has sent.
func (r *Repository) RemoveConnection(ctx context.Context, me Ref, otherUID string) error {
	a, b, err := r.pair(ctx, me, otherUID)
	if err != nil {
		return err
	}
	if l := linkOf(a, b); !l.connected && !l.sent {
		return ErrNotConnected
	}
	return r.settle(ctx, a, "", b, "")
}

// settle leaves the other participant in at most the named field on each
// side; an empty field removes it from all three.
func (r *Repository) settle(ctx context.Context, a side, aField string, b side, bField string) error {
	if err := r.store.Update(ctx, a.coll, a.uid, connectionUpdates(b.uid, aField)...); err != nil {
		return fmt.Errorf("update connections of %s: %w", a.uid, err)
	}
	if err := r.store.Update(ctx, b.coll, b.uid, connectionUpdates(a.uid, bField)...); err != nil {
		return fmt.Errorf("update connections of %s: %w", b.uid, err)
	}
	return nil
}

// settleAnd repairs a half-written pair and then reports reason.
func (r *Repository) settleAnd(ctx context.Context, reason error, a side, aField string, b side, bField string) error {
	if err := r.settle(ctx, a, aField, b, bField); err != nil {
		return err
	}
	return reason
}

func connectionUpdates(uid, field string) []store.Update {
	return lo.Map(connectionFields, func(f string, _ int) store.Update {
		if f == field {
			return store.Update{Path: f, Value: store.ArrayUnion{uid}}
		}
		return store.Update{Path: f, Value: store.ArrayRemove{uid}}
	})
}

func (r *Repository) pair(ctx context.Context, me Ref, otherUID string) (side, side, error) {
	if me.UID == otherUID {
		return side{}, side{}, ErrSelfConnection
	}
	mine, myKind, err := r.Find(ctx, me)
	if err != nil {
		return side{}, side{}, err
	}
	other, otherKind, err := r.Locate(ctx, otherUID)
	if err != nil {
		return side{}, side{}, err
	}
	myColl, _ := myKind.Collection()
	otherColl, _ := otherKind.Collection()
	return side{profile: mine, uid: me.UID, coll: myColl}, side{profile: other, uid: otherUID, coll: otherColl}, nil
}
