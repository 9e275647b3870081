// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tzupdate sets the system timezone from a geolocation lookup of
// the host's public IP address.
package tzupdate

import (
	"context"
	"log/slog"
)

// Resolver maps the host's current public IP address to a timezone
// identifier.
type Resolver interface {
	// Resolve returns the timezone identifier for the host's current
	// network location, typically an IANA zone name.
	Resolve(ctx context.Context) (string, error)
}

// Applier sets the host's system timezone.
type Applier interface {
	// Apply sets the system timezone to the given identifier.
	Apply(ctx context.Context, tz string) error
}

// Updater resolves the timezone for the host's network location and
// applies it to the system.
type Updater struct {
	resolver Resolver
	applier  Applier
	log      *slog.Logger
}

// NewUpdater returns an Updater using the provided resolver and applier.
func NewUpdater(r Resolver, a Applier, log *slog.Logger) *Updater {
	return &Updater{resolver: r, applier: a, log: log}
}

// Update resolves the current timezone and applies it to the system. If
// the lookup fails no apply call is made and the error is a *LookupError;
// if the apply call fails the error is an *ApplyError. No retry or
// compensation is performed in either case.
func (u *Updater) Update(ctx context.Context) error {
	tz, err := u.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	u.log.LogAttrs(ctx, slog.LevelInfo, "setting timezone", slog.String("tz", tz))
	return u.applier.Apply(ctx, tz)
}
