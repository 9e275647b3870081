// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tzupdate

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	timedateName = "org.freedesktop.timedate1"
	timedatePath = dbus.ObjectPath("/org/freedesktop/timedate1")
	setTimezone  = "org.freedesktop.timedate1.SetTimezone"
)

// TimedateApplier sets the system timezone via the org.freedesktop.timedate1
// service on the system bus. It is safe for concurrent use.
type TimedateApplier struct {
	obj     dbus.BusObject
	timeout time.Duration
}

// NewTimedateApplier returns an Applier calling the timedate1 service on
// conn. Each call is bounded by timeout.
func NewTimedateApplier(conn *dbus.Conn, timeout time.Duration) *TimedateApplier {
	return &TimedateApplier{
		obj:     conn.Object(timedateName, timedatePath),
		timeout: timeout,
	}
}

// Apply sets the system timezone to tz. The call does not request
// interactive authorisation, so the daemon must either run with
// sufficient privilege or be pre-authorised by polkit policy.
func (a *TimedateApplier) Apply(ctx context.Context, tz string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	call := a.obj.CallWithContext(ctx, setTimezone, 0, tz, false)
	if call.Err != nil {
		return &ApplyError{Err: call.Err}
	}
	return nil
}

// ApplyError indicates a failed call to the time/date management service.
type ApplyError struct {
	Err error
}

func (e *ApplyError) Error() string { return fmt.Sprintf("failed to set timezone: %v", e.Err) }

func (e *ApplyError) Unwrap() error { return e.Err }
