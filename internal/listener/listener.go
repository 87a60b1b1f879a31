// Package listener bridges store-level change notifications to the build
// coordinator. It is a thin adapter: filter marker keys, hand them to
// OnChange, never block intake.
package listener

import (
	"context"
	"log/slog"
	"strings"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
	"git.home.luguber.info/inful/promoter/internal/store"
)

// ChangeHandler receives accepted change signals. The coordinator satisfies this.
type ChangeHandler interface {
	OnChange(ctx context.Context, key, eventType string)
}

// Listener watches the store for change-signal keys ending in the marker suffix.
type Listener struct {
	store        store.Store
	handler      ChangeHandler
	markerSuffix string
}

// New creates a listener. markerSuffix defaults to ".metadata".
func New(s store.Store, handler ChangeHandler, markerSuffix string) (*Listener, error) {
	if s == nil {
		return nil, perrors.ValidationFailed("store", "is required")
	}
	if handler == nil {
		return nil, perrors.ValidationFailed("handler", "is required")
	}
	if markerSuffix == "" {
		markerSuffix = ".metadata"
	}
	return &Listener{store: s, handler: handler, markerSuffix: markerSuffix}, nil
}

// Run consumes watch updates until ctx is canceled. Each matching put is
// dispatched to the handler; OnChange is cheap, so the watch loop never
// falls behind a burst of signals.
func (l *Listener) Run(ctx context.Context) error {
	updates, err := l.store.Watch(ctx, ">")
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryStore, perrors.SeverityFatal, "failed to watch store")
	}

	slog.Info("Listening for change signals", "marker_suffix", l.markerSuffix)

	for update := range updates {
		if update.Op != store.OpPut {
			continue
		}
		if !strings.HasSuffix(update.Key, l.markerSuffix) {
			continue
		}
		l.handler.OnChange(ctx, update.Key, string(update.Op))
	}
	return nil
}
