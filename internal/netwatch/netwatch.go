// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package netwatch watches the system bus for the wireless station
// gaining network connectivity.
package netwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	propsInterface = "org.freedesktop.DBus.Properties"
	propsChanged   = "PropertiesChanged"

	stationInterface = "net.connman.iwd.Station"
	stateProperty    = "State"
	stateConnected   = "connected"
)

// Event is a decoded PropertiesChanged notification.
type Event struct {
	// Interface is the property namespace the change applies to.
	Interface string
	// Changed holds the new values of the changed properties.
	Changed map[string]dbus.Variant
}

// Connected reports whether the event signals the station transitioning
// into the connected state. Only the station state property is inspected
// and comparisons are exact; all other properties are ignored.
func Connected(ev Event) bool {
	if ev.Interface != stationInterface {
		return false
	}
	v, ok := ev.Changed[stateProperty]
	if !ok {
		return false
	}
	s, ok := v.Value().(string)
	return ok && s == stateConnected
}

// Subscription is an active registration for PropertiesChanged signals
// from a single sender on the bus.
type Subscription struct {
	conn *dbus.Conn
	opts []dbus.MatchOption

	sig    chan *dbus.Signal
	events chan Event
	done   chan struct{}

	log *slog.Logger
}

// Subscribe registers interest in PropertiesChanged signals originating
// from sender on conn and starts delivering decoded events on the channel
// returned by Events. Signals that cannot be decoded are logged and
// dropped.
func Subscribe(conn *dbus.Conn, sender string, log *slog.Logger) (*Subscription, error) {
	s := &Subscription{
		conn: conn,
		opts: []dbus.MatchOption{
			dbus.WithMatchSender(sender),
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember(propsChanged),
		},
		sig:    make(chan *dbus.Signal, 16),
		events: make(chan Event),
		done:   make(chan struct{}),
		log:    log,
	}
	err := conn.AddMatchSignal(s.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to register signal match: %w", err)
	}
	conn.Signal(s.sig)
	go s.decode()
	return s, nil
}

// Events returns the stream of decoded events. The channel is closed when
// the subscription is closed or the bus connection is lost.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) decode() {
	defer close(s.events)
	defer close(s.done)
	ctx := context.Background()
	for sig := range s.sig {
		ev, err := decodeEvent(sig)
		if err != nil {
			// A malformed notification is dropped rather than
			// terminating the stream.
			s.log.LogAttrs(ctx, slog.LevelWarn, "dropping signal", slog.Any("error", err))
			continue
		}
		s.events <- ev
	}
}

// Close deregisters the subscription from the bus, terminating the event
// stream. Close must not be called while the bus connection is being
// closed by another goroutine.
func (s *Subscription) Close() error {
	err := s.conn.RemoveMatchSignal(s.opts...)
	s.conn.RemoveSignal(s.sig)
	select {
	case <-s.done:
		// The connection has closed the signal channel already.
	default:
		close(s.sig)
	}
	return err
}

// decodeEvent extracts the interface name and changed property values
// from a PropertiesChanged signal. The invalidated properties element of
// the body is ignored.
func decodeEvent(sig *dbus.Signal) (Event, error) {
	if len(sig.Body) < 2 {
		return Event{}, &DecodeError{Name: sig.Name, Err: fmt.Errorf("short body: %d elements", len(sig.Body))}
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return Event{}, &DecodeError{Name: sig.Name, Err: fmt.Errorf("invalid interface type %T", sig.Body[0])}
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return Event{}, &DecodeError{Name: sig.Name, Err: fmt.Errorf("invalid properties type %T", sig.Body[1])}
	}
	return Event{Interface: iface, Changed: changed}, nil
}

// DecodeError indicates a signal that could not be decoded into an Event.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("cannot decode %s: %v", e.Name, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrClosed is returned by Run when the event stream has closed,
// indicating loss of the connection to the bus.
var ErrClosed = errors.New("event stream closed")

// Run consumes events until ctx is cancelled or the stream closes,
// invoking update for each event that reports the station becoming
// connected. Events are handled strictly in order; update runs to
// completion before the next event is considered. Failures from update
// are logged and do not terminate the loop. Run returns ErrClosed if
// events closes, or the cause of ctx's cancellation.
func Run(ctx context.Context, events <-chan Event, update func(context.Context) error, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrClosed
			}
			if !Connected(ev) {
				log.LogAttrs(ctx, slog.LevelDebug, "ignoring event", slog.String("interface", ev.Interface))
				continue
			}
			log.LogAttrs(ctx, slog.LevelInfo, "station connected")
			err := update(ctx)
			if err != nil {
				log.LogAttrs(ctx, slog.LevelError, "failed timezone update", slog.Any("error", err))
			}
		}
	}
}
