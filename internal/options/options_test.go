package options_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/internal/options"
)

type config struct {
	value int
	name  string
}

func TestApplyOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		constructor options.OptionConstructor[config]
		callbacks   []options.OptionCallback[config]
		expected    config
	}{
		{
			name:        "nil constructor and no callbacks",
			constructor: nil,
			callbacks:   nil,
			expected:    config{},
		},
		{
			name:        "defaults only",
			constructor: func() config { return config{value: 42, name: "default"} },
			callbacks:   nil,
			expected:    config{value: 42, name: "default"},
		},
		{
			name:        "callbacks applied in order",
			constructor: func() config { return config{value: 1, name: "initial"} },
			callbacks: []options.OptionCallback[config]{
				func(c *config) { c.value = 2 },
				nil,
				func(c *config) { c.value *= 10 },
			},
			expected: config{value: 20, name: "initial"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, options.ApplyOptions(tt.constructor, tt.callbacks))
		})
	}
}

func TestApplyValidated(t *testing.T) {
	t.Parallel()

	errNegative := errors.New("negative")
	validate := func(c config) error {
		if c.value < 0 {
			return errNegative
		}

		return nil
	}

	got, err := options.ApplyValidated(nil, []options.OptionCallback[config]{
		func(c *config) { c.value = 5 },
	}, validate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.value)

	_, err = options.ApplyValidated(nil, []options.OptionCallback[config]{
		func(c *config) { c.value = -1 },
	}, validate)
	require.ErrorIs(t, err, errNegative)
}
