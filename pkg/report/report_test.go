package report

import (
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/entrhq/pagewatch/pkg/module"
	"github.com/entrhq/pagewatch/pkg/orchestrator"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func sample() *orchestrator.CycleReport {
	return &orchestrator.CycleReport{
		Kind:      orchestrator.CycleReinitialize,
		Location:  "https://shop.example/sell",
		StartedAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Duration:  42 * time.Millisecond,
		Results: []module.Result{
			{Module: "fill-sell-form", Outcome: module.Applied, Succeeded: true},
			{Module: "hide-ads", Outcome: module.NotApplicable, Succeeded: true},
			{Module: "reorder", Outcome: module.Failed, Err: errors.New("anchor detached")},
		},
	}
}

func TestRender(t *testing.T) {
	out := Render(sample(), 0)

	assert.Contains(t, out, "reinitialize https://shop.example/sell")
	assert.Contains(t, out, "15:04:05 42ms")
	assert.Contains(t, out, "✓ fill-sell-form  applied")
	assert.Contains(t, out, "· hide-ads        not_applicable")
	assert.Contains(t, out, "✗ reorder         failed anchor detached")
	assert.Contains(t, out, "1 applied  1 not applicable  1 failed")
	assert.Contains(t, out, "╭")
	assert.NotContains(t, out, "interrupted")
}

func TestRender_Interrupted(t *testing.T) {
	r := sample()
	r.Interrupted = true
	assert.Contains(t, Render(r, 80), "interrupted")
}

func TestRender_Nil(t *testing.T) {
	assert.Empty(t, Render(nil, 0))
}

func TestSummary(t *testing.T) {
	r := &orchestrator.CycleReport{Results: []module.Result{
		{Outcome: module.Applied}, {Outcome: module.Applied},
	}}
	assert.Equal(t, "2 applied  0 not applicable  0 failed", Summary(r))
}
