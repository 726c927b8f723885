// File: internal/infra/logging/logging_test.go
package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithContextFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithPollID(ctx, "poll-1")
	With(ctx, &base).Info().Msg("tick")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-1"`) {
		t.Errorf("trace_id missing: %s", out)
	}
	if !strings.Contains(out, `"poll_id":"poll-1"`) {
		t.Errorf("poll_id missing: %s", out)
	}

	t.Run("bare context adds nothing", func(t *testing.T) {
		buf.Reset()
		With(context.Background(), &base).Info().Msg("tick")
		if strings.Contains(buf.String(), "trace_id") || strings.Contains(buf.String(), "poll_id") {
			t.Errorf("unexpected fields: %s", buf.String())
		}
	})
}

func TestTraceDuration(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	base := zerolog.New(&buf)

	done := TraceDuration(&base, "Client.STKPush")
	done()

	out := buf.String()
	if !strings.Contains(out, `"message":"start"`) || !strings.Contains(out, `"message":"finish"`) {
		t.Errorf("start/finish pair missing: %s", out)
	}
	if !strings.Contains(out, `"method":"Client.STKPush"`) {
		t.Errorf("method field missing: %s", out)
	}
	if !strings.Contains(out, "duration") {
		t.Errorf("duration field missing: %s", out)
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		dev  bool
		want string
	}{
		{"dev keeps the value", "supersecrettoken", true, "supersecrettoken"},
		{"long value previews", "supersecrettoken", false, "supe...en"},
		{"short value hides fully", "tiny", false, "***"},
		{"boundary length hides fully", "12345678", false, "***"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Redact(tc.in, tc.dev); got != tc.want {
				t.Errorf("Redact(%q, %v) = %q, want %q", tc.in, tc.dev, got, tc.want)
			}
		})
	}
}
