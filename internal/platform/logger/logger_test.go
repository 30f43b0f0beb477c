package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestContextSourceField(t *testing.T) {
	ctx := WithSource(context.Background(), 3)

	var buf bytes.Buffer
	l := C(ctx).Output(&buf)
	l.Info().Msg("tick")

	if !strings.Contains(buf.String(), `"source":3`) {
		t.Errorf("log line %q missing source field", buf.String())
	}
}

func TestContextWithoutSource(t *testing.T) {
	var buf bytes.Buffer
	l := C(context.Background()).Output(&buf)
	l.Info().Msg("tick")

	if strings.Contains(buf.String(), `"source"`) {
		t.Errorf("log line %q carries a source field for a bare context", buf.String())
	}
}
