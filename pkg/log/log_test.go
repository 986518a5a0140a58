package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithInstance(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	WithInstance(logger, "instance-9").Info("delay resumed")

	assert.Contains(t, buf.String(), "instance_id=instance-9")
	assert.Contains(t, buf.String(), "delay resumed")
}
