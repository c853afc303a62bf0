package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/urfave/cli/v2"
)

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   pipeline.Status
		output   string
		wantExit bool
	}{
		{name: "success exits cleanly", status: pipeline.StatusSuccess, output: "plain"},
		{name: "partial error fails the command", status: pipeline.StatusPartialError, output: "plain", wantExit: true},
		{name: "error fails the command", status: pipeline.StatusError, output: "plain", wantExit: true},
		{name: "json output keeps the exit code", status: pipeline.StatusPartialError, output: "json", wantExit: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := printSummary(&out, &pipeline.Summary{
				RunID:  "run-1",
				Status: tt.status,
				Steps:  []pipeline.StepSummary{{Name: "transform", Status: pipeline.StepOK}},
			}, tt.output)

			if tt.wantExit {
				var exit cli.ExitCoder
				require.True(t, errors.As(err, &exit))
				assert.Equal(t, 1, exit.ExitCode())
			} else {
				require.NoError(t, err)
			}

			if tt.output == "json" {
				var decoded map[string]any
				require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
				assert.Equal(t, string(tt.status), decoded["status"])
				return
			}
			assert.Contains(t, out.String(), "transform")
		})
	}
}

func TestUnavailableAPI(t *testing.T) {
	t.Parallel()

	cause := errors.New("no credentials")
	api := unavailableAPI{err: cause}

	require.ErrorIs(t, api.Authenticate(context.Background()), cause)

	doc, err := api.Get(context.Background(), "/v1/application", nil, "")
	require.ErrorIs(t, err, cause)
	assert.True(t, doc.IsEmpty())

	_, err = api.GetText(context.Background(), "/v1/chat/history/csv", nil, "100274")
	require.ErrorIs(t, err, cause)
}
