package dslink

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestProfileManagerLookup(t *testing.T) {
	manager := NewProfileManager()

	_, err := manager.GetProfile("missing")
	assert.Equal(t, true, errors.Is(err, ErrNoSuchProfile))

	profile := manager.AddProfile("rng")
	assert.Equal(t, "rng", profile.Name())

	// AddProfile is idempotent
	assert.Equal(t, true, manager.AddProfile("rng") == profile)

	found, err := manager.GetProfile("rng")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found == profile)
}

func TestProfileCallbacks(t *testing.T) {
	profile := NewProfileManager().AddProfile("p")

	// no callbacks registered: no rows, no panic
	assert.Equal(t, 0, len(profile.RunCallback(&CallbackParameters{})))
	profile.RunSetCallback(&SetCallbackParameters{})

	profile.OnInvoke(func(params *CallbackParameters) []any {
		return []any{[]any{1}}
	})
	var gotValue any
	profile.OnSet(func(params *SetCallbackParameters) {
		gotValue = params.Value
	})

	assert.Equal(t, 1, len(profile.RunCallback(&CallbackParameters{})))
	profile.RunSetCallback(&SetCallbackParameters{Value: 9})
	assert.Equal(t, 9, gotValue)
}
