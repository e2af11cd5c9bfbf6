package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type fakePrompter struct {
	answers map[Permission]bool
	err     error
	asked   [][]Permission
}

func (p *fakePrompter) Request(ctx context.Context, perms ...Permission) (map[Permission]bool, error) {
	p.asked = append(p.asked, perms)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[Permission]bool)
	for _, perm := range perms {
		out[perm] = p.answers[perm]
	}
	return out, nil
}

type fakeNotifier struct {
	alerts []string
}

func (n *fakeNotifier) Alert(title, message string) {
	n.alerts = append(n.alerts, message)
}

type fakeNative struct {
	started int
	err     error
}

func (n *fakeNative) RequestLocationPermission(ctx context.Context) error {
	n.started++
	return n.err
}

func TestRuntimeGateEitherPermissionGrants(t *testing.T) {
	for _, perm := range []Permission{FineLocation, CoarseLocation} {
		prompter := &fakePrompter{answers: map[Permission]bool{perm: true}}
		native := &fakeNative{}
		gate := NewRuntimeGate(prompter, &fakeNotifier{}, native, logger.NewNop())

		assert.Equal(t, Granted, gate.Request(context.Background()), perm)
		assert.Equal(t, 1, native.started)
		require.Len(t, prompter.asked, 1)
		assert.ElementsMatch(t, []Permission{FineLocation, CoarseLocation}, prompter.asked[0])
	}
}

func TestRuntimeGateDeniedAlertsOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	native := &fakeNative{}
	gate := NewRuntimeGate(&fakePrompter{}, notifier, native, logger.NewNop())

	assert.Equal(t, Denied, gate.Request(context.Background()))
	assert.Len(t, notifier.alerts, 1)
	assert.Zero(t, native.started)
}

func TestRuntimeGateCheckFailureIsUnavailable(t *testing.T) {
	gate := NewRuntimeGate(&fakePrompter{err: errors.New("no activity")}, nil, nil, logger.NewNop())
	assert.Equal(t, Unavailable, gate.Request(context.Background()))
}

func TestRuntimeGateNativeStartFailureStillGranted(t *testing.T) {
	prompter := &fakePrompter{answers: map[Permission]bool{FineLocation: true}}
	gate := NewRuntimeGate(prompter, nil, &fakeNative{err: errors.New("module missing")}, logger.NewNop())
	assert.Equal(t, Granted, gate.Request(context.Background()))
}

func TestDelegatedGateIsOptimistic(t *testing.T) {
	assert.Equal(t, Granted, DelegatedGate{}.Request(context.Background()))
}

func TestTrackerTransitions(t *testing.T) {
	var tr Tracker
	assert.Equal(t, Unknown, tr.State())

	assert.True(t, tr.Set(Denied))
	assert.True(t, tr.Set(Granted), "denied can become granted")
	assert.False(t, tr.Set(Unknown))
	assert.False(t, tr.Set(Unavailable))
	assert.True(t, tr.Set(Denied))

	var unavailable Tracker
	require.True(t, unavailable.Set(Unavailable))
	assert.False(t, unavailable.Set(Granted))
	assert.Equal(t, Unavailable, unavailable.State())
}

func TestDisclosureFlowShowsOnce(t *testing.T) {
	ctx := context.Background()
	prompter := &fakePrompter{answers: map[Permission]bool{FineLocation: true, BackgroundLocation: true}}
	store := NewRedisDisclosureStore(storage.NewMemoryClient())
	flow := NewDisclosureFlow(prompter, store, logger.NewNop())

	shows := 0
	show := func(context.Context) bool { shows++; return true }

	res := flow.Run(ctx, "user:42", show)
	assert.Equal(t, DisclosureResult{ForegroundGranted: true, BackgroundGranted: true}, res)

	res = flow.Run(ctx, "user:42", show)
	assert.True(t, res.BackgroundGranted)
	assert.Equal(t, 1, shows)
}

func TestDisclosureFlowDeclined(t *testing.T) {
	prompter := &fakePrompter{answers: map[Permission]bool{CoarseLocation: true, BackgroundLocation: true}}
	store := NewMemoryDisclosureStore()
	flow := NewDisclosureFlow(prompter, store, logger.NewNop())

	res := flow.Run(context.Background(), "user:7", func(context.Context) bool { return false })
	assert.Equal(t, DisclosureResult{ForegroundGranted: true}, res)

	shown, err := store.Shown(context.Background(), "user:7")
	require.NoError(t, err)
	assert.False(t, shown)
	assert.Len(t, prompter.asked, 1, "background permission must not be requested")
}

func TestDisclosureFlowNoForeground(t *testing.T) {
	flow := NewDisclosureFlow(&fakePrompter{}, NewMemoryDisclosureStore(), logger.NewNop())
	res := flow.Run(context.Background(), "user:1", func(context.Context) bool {
		t.Fatal("disclosure must not be shown without foreground permission")
		return false
	})
	assert.Equal(t, DisclosureResult{}, res)
}
