package module

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagewatch/pkg/logging"
)

func runtimeAt(location string, buf *bytes.Buffer) *Runtime {
	return &Runtime{
		Location: location,
		Logger:   logging.NewWriterLogger("pipeline", buf, logging.LevelDebug),
	}
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		fn            func(context.Context, *Runtime) (Outcome, error)
		wantOutcome   Outcome
		wantSucceeded bool
		wantErr       string
	}{
		{
			name:          "applied",
			fn:            func(context.Context, *Runtime) (Outcome, error) { return Applied, nil },
			wantOutcome:   Applied,
			wantSucceeded: true,
		},
		{
			name:          "not applicable",
			fn:            func(context.Context, *Runtime) (Outcome, error) { return NotApplicable, nil },
			wantOutcome:   NotApplicable,
			wantSucceeded: true,
		},
		{
			name:        "error",
			fn:          func(context.Context, *Runtime) (Outcome, error) { return Applied, errors.New("select vanished") },
			wantOutcome: Failed,
			wantErr:     "select vanished",
		},
		{
			name:        "reported failure",
			fn:          func(context.Context, *Runtime) (Outcome, error) { return Failed, nil },
			wantOutcome: Failed,
			wantErr:     "module reported failure",
		},
		{
			name:        "panic",
			fn:          func(context.Context, *Runtime) (Outcome, error) { panic("nil element") },
			wantOutcome: Failed,
			wantErr:     "module panicked: nil element",
		},
		{
			name:          "zero outcome counts as applied",
			fn:            func(context.Context, *Runtime) (Outcome, error) { return 0, nil },
			wantOutcome:   Applied,
			wantSucceeded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var res Result
			require.NotPanics(t, func() {
				res = Run(context.Background(), runtimeAt("https://x/", &buf), Func("m", tt.fn))
			})

			assert.Equal(t, "m", res.Module)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantSucceeded, res.Succeeded)
			assert.Equal(t, tt.wantErr, res.Error())
			if tt.wantOutcome == Failed {
				assert.Contains(t, buf.String(), "[ERROR]")
			}
		})
	}
}

func TestRun_PanicIsErrPanic(t *testing.T) {
	res := Run(context.Background(), &Runtime{}, Func("p", func(context.Context, *Runtime) (Outcome, error) {
		panic(errors.New("boom"))
	}))
	assert.ErrorIs(t, res.Err, ErrPanic)
}

func TestRun_MeasuresDuration(t *testing.T) {
	res := Run(context.Background(), &Runtime{}, Func("slow", func(context.Context, *Runtime) (Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return Applied, nil
	}))
	assert.GreaterOrEqual(t, res.Duration, 5*time.Millisecond)
	assert.GreaterOrEqual(t, res.DurationMs(), 5.0)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "not_applicable", NotApplicable.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

func TestLocationMatcher(t *testing.T) {
	lm, err := NewLocationMatcher(
		[]string{"https://shop.example/checkout*", "https://*.shop.example/cart"},
		[]string{"*?preview=1"},
	)
	require.NoError(t, err)

	assert.True(t, lm.Matches("https://shop.example/checkout"))
	assert.True(t, lm.Matches("https://shop.example/checkout/shipping"))
	assert.True(t, lm.Matches("https://eu.shop.example/cart"))
	assert.False(t, lm.Matches("https://shop.example/"))
	assert.False(t, lm.Matches("https://shop.example/checkout?preview=1"))

	all, err := NewLocationMatcher(nil, nil)
	require.NoError(t, err)
	assert.True(t, all.Matches("anything"))

	_, err = NewLocationMatcher([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestScoped(t *testing.T) {
	calls := 0
	inner := Func("fill", func(context.Context, *Runtime) (Outcome, error) {
		calls++
		return Applied, nil
	})
	lm, err := NewLocationMatcher([]string{"*/checkout"}, nil)
	require.NoError(t, err)
	m := Scoped(inner, lm)

	assert.Equal(t, "fill", m.Name())

	out, err := m.Apply(context.Background(), &Runtime{Location: "https://shop.example/"})
	require.NoError(t, err)
	assert.Equal(t, NotApplicable, out)
	assert.Equal(t, 0, calls)

	out, err = m.Apply(context.Background(), &Runtime{Location: "https://shop.example/checkout"})
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
	assert.Equal(t, 1, calls)
}
