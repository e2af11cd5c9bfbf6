package permission

import (
	"context"

	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type Permission string

const (
	FineLocation       Permission = "fine_location"
	CoarseLocation     Permission = "coarse_location"
	BackgroundLocation Permission = "background_location"
)

const (
	deniedTitle   = "Location Permission"
	deniedMessage = "Location permission is required to show your current location on the map."
)

// Gate resolves the location permission. It never fails; check errors
// degrade to Unavailable.
type Gate interface {
	Request(ctx context.Context) State
}

// Prompter shows the platform permission dialog for the given permissions and
// reports which were approved.
type Prompter interface {
	Request(ctx context.Context, perms ...Permission) (map[Permission]bool, error)
}

// Notifier shows a one-off explanation to the user.
type Notifier interface {
	Alert(title, message string)
}

// NativeStarter starts native location updates once permission is granted.
type NativeStarter interface {
	RequestLocationPermission(ctx context.Context) error
}

// RuntimeGate is used on platforms with a runtime permission dialog.
type RuntimeGate struct {
	prompter Prompter
	notifier Notifier
	native   NativeStarter
	logger   logger.Logger
}

func NewRuntimeGate(prompter Prompter, notifier Notifier, native NativeStarter, log logger.Logger) *RuntimeGate {
	return &RuntimeGate{prompter: prompter, notifier: notifier, native: native, logger: log}
}

func (g *RuntimeGate) Request(ctx context.Context) State {
	results, err := g.prompter.Request(ctx, FineLocation, CoarseLocation)
	if err != nil {
		g.logger.Warn("permission check failed", "error", err)
		return Unavailable
	}

	if !results[FineLocation] && !results[CoarseLocation] {
		if g.notifier != nil {
			g.notifier.Alert(deniedTitle, deniedMessage)
		}
		return Denied
	}

	if g.native != nil {
		if err := g.native.RequestLocationPermission(ctx); err != nil {
			g.logger.Warn("failed to start native location updates", "error", err)
		}
	}
	return Granted
}

// DelegatedGate is used when the embedded renderer asks for permission
// itself. The outcome of that prompt is unknown here, so it resolves Granted
// and relies on the surface reporting a denial later.
type DelegatedGate struct{}

func (DelegatedGate) Request(ctx context.Context) State {
	return Granted
}
