package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testDocument() map[string]any {
	return map[string]any{
		"trigger": map[string]any{
			"user": map[string]any{"name": "Ada", "age": float64(36)},
		},
		"nodes": map[string]any{
			"fetch": map[string]any{"count": float64(3)},
		},
	}
}

func TestLookup(t *testing.T) {
	doc := testDocument()

	value, ok := Lookup(doc, "trigger.user.name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", value)

	value, ok = Lookup(doc, "$.nodes.fetch.count")
	assert.True(t, ok)
	assert.Equal(t, float64(3), value)

	_, ok = Lookup(doc, "trigger.user.missing")
	assert.False(t, ok)

	_, ok = Lookup(doc, "trigger.user.name.deeper")
	assert.False(t, ok)

	_, ok = Lookup(doc, "")
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	doc := testDocument()

	assert.Equal(t, "hello Ada", Render("hello {{trigger.user.name}}", doc, nil))
	assert.Equal(t, "count=3", Render("count={{nodes.fetch.count}}", doc, nil))
	assert.Equal(t, "missing: ", Render("missing: {{no.such.path}}", doc, nil))
	assert.Equal(t, "plain text", Render("plain text", doc, nil))
}

func TestRenderNow(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts := &Options{Now: func() time.Time { return fixed }}

	assert.Equal(t, "at 2024-05-01T12:00:00Z", Render("at {{now}}", testDocument(), opts))
}

func TestRenderIncrement(t *testing.T) {
	counter := float64(0)
	opts := &Options{Increment: func() float64 {
		counter++

		return counter
	}}

	assert.Equal(t, "n=1", Render("n={{increment}}", testDocument(), opts))
	assert.Equal(t, "n=2", Render("n={{increment}}", testDocument(), opts))

	// Without an increment hook the placeholder renders as zero.
	assert.Equal(t, "n=0", Render("n={{increment}}", testDocument(), nil))
}

func TestRenderValuePreservesTypes(t *testing.T) {
	doc := testDocument()

	value := RenderValue("{{trigger.user}}", doc, nil)
	assert.Equal(t, map[string]any{"name": "Ada", "age": float64(36)}, value)

	value = RenderValue("{{nodes.fetch.count}}", doc, nil)
	assert.Equal(t, float64(3), value)

	// Mixed content falls back to string rendering.
	value = RenderValue("count is {{nodes.fetch.count}}", doc, nil)
	assert.Equal(t, "count is 3", value)

	assert.Nil(t, RenderValue("{{no.such.path}}", doc, nil))
}
