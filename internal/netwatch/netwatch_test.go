// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package netwatch

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/zonesync/internal/slogext"
)

var verbose = flag.Bool("verbose_log", false, "print test logging")

func newTestLogger() *slog.Logger {
	var w io.Writer = io.Discard
	if *verbose {
		w = os.Stderr
	}
	return slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(w, nil)})
}

var connectedTests = []struct {
	name string
	ev   Event
	want bool
}{
	{
		name: "connected",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("connected")},
		},
		want: true,
	},
	{
		name: "connected_among_other_properties",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed: map[string]dbus.Variant{
				"Scanning":         dbus.MakeVariant(false),
				"State":            dbus.MakeVariant("connected"),
				"ConnectedNetwork": dbus.MakeVariant(dbus.ObjectPath("/net/connman/iwd/0/1/abcd")),
			},
		},
		want: true,
	},
	{
		name: "wrong_interface",
		ev: Event{
			Interface: "net.connman.iwd.Adapter",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("connected")},
		},
		want: false,
	},
	{
		name: "no_state_property",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"Scanning": dbus.MakeVariant(true)},
		},
		want: false,
	},
	{
		name: "disconnected",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("disconnected")},
		},
		want: false,
	},
	{
		name: "case_sensitive",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("Connected")},
		},
		want: false,
	},
	{
		name: "untrimmed",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("connected\n")},
		},
		want: false,
	},
	{
		name: "non_string_state",
		ev: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant(true)},
		},
		want: false,
	},
	{
		name: "no_properties",
		ev:   Event{Interface: "net.connman.iwd.Station"},
		want: false,
	},
}

func TestConnected(t *testing.T) {
	for _, test := range connectedTests {
		t.Run(test.name, func(t *testing.T) {
			got := Connected(test.ev)
			if got != test.want {
				t.Errorf("unexpected match result: got:%t want:%t", got, test.want)
			}
			if again := Connected(test.ev); again != got {
				t.Errorf("non-deterministic match result: got:%t then:%t", got, again)
			}
		})
	}
}

var decodeEventTests = []struct {
	name    string
	sig     *dbus.Signal
	want    Event
	wantErr bool
}{
	{
		name: "properties_changed",
		sig: &dbus.Signal{
			Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
			Body: []any{
				"net.connman.iwd.Station",
				map[string]dbus.Variant{"State": dbus.MakeVariant("connected")},
				[]string{},
			},
		},
		want: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("connected")},
		},
	},
	{
		name: "no_invalidated_element",
		sig: &dbus.Signal{
			Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
			Body: []any{
				"net.connman.iwd.Station",
				map[string]dbus.Variant{"State": dbus.MakeVariant("roaming")},
			},
		},
		want: Event{
			Interface: "net.connman.iwd.Station",
			Changed:   map[string]dbus.Variant{"State": dbus.MakeVariant("roaming")},
		},
	},
	{
		name: "short_body",
		sig: &dbus.Signal{
			Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
			Body: []any{"net.connman.iwd.Station"},
		},
		wantErr: true,
	},
	{
		name: "non_string_interface",
		sig: &dbus.Signal{
			Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
			Body: []any{42, map[string]dbus.Variant{}},
		},
		wantErr: true,
	},
	{
		name: "non_map_properties",
		sig: &dbus.Signal{
			Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
			Body: []any{"net.connman.iwd.Station", []string{"State"}},
		},
		wantErr: true,
	},
}

func TestDecodeEvent(t *testing.T) {
	for _, test := range decodeEventTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := decodeEvent(test.sig)
			if test.wantErr {
				var decErr *DecodeError
				if !errors.As(err, &decErr) {
					t.Fatalf("expected *DecodeError: got:%v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cmp.Equal(test.want, got, cmp.AllowUnexported(dbus.Variant{}, dbus.Signature{})) {
				t.Errorf("unexpected event:\n--- want:\n+++ got:\n%s",
					cmp.Diff(test.want, got, cmp.AllowUnexported(dbus.Variant{}, dbus.Signature{})))
			}
		})
	}
}

func TestRun(t *testing.T) {
	qualifying := Event{
		Interface: stationInterface,
		Changed:   map[string]dbus.Variant{stateProperty: dbus.MakeVariant(stateConnected)},
	}
	roaming := Event{
		Interface: stationInterface,
		Changed:   map[string]dbus.Variant{stateProperty: dbus.MakeVariant("roaming")},
	}

	var (
		calls    int
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	update := func(_ context.Context) error {
		if inFlight.Add(1) != 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		calls++
		time.Sleep(time.Millisecond)
		return nil
	}

	events := make(chan Event)
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), events, update, newTestLogger())
	}()
	for _, ev := range []Event{roaming, qualifying, roaming, qualifying} {
		events <- ev
	}
	close(events)

	err := <-done
	if !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error after stream close: got:%v want:%v", err, ErrClosed)
	}
	if calls != 2 {
		t.Errorf("unexpected number of updates: got:%d want:2", calls)
	}
	if overlap.Load() {
		t.Error("updates overlapped")
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	qualifying := Event{
		Interface: stationInterface,
		Changed:   map[string]dbus.Variant{stateProperty: dbus.MakeVariant(stateConnected)},
	}

	var calls int
	update := func(_ context.Context) error {
		calls++
		return errors.New("no network")
	}

	events := make(chan Event)
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), events, update, newTestLogger())
	}()
	for i := 0; i < 3; i++ {
		events <- qualifying
	}
	close(events)

	err := <-done
	if !errors.Is(err, ErrClosed) {
		t.Errorf("unexpected error after stream close: got:%v want:%v", err, ErrClosed)
	}
	if calls != 3 {
		t.Errorf("unexpected number of updates: got:%d want:3", calls)
	}
}

func TestRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, events, func(context.Context) error { return nil }, newTestLogger())
	}()
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error after cancellation: got:%v want:%v", err, context.Canceled)
	}
}
