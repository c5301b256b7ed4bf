package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/awsnare/awsnare/pkg/config"
	"github.com/awsnare/awsnare/pkg/engine"
	"github.com/awsnare/awsnare/pkg/engine/match"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigEditCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "awsnare.yaml")
	arn := "arn:aws:s3:::snare-finance-prod-42"

	out, err := execute(t, "--config", path, "config", "add-snare", arn)
	require.NoError(t, err)
	assert.Contains(t, out, "[+] Watching "+arn)

	_, err = execute(t, "--config", path, "config", "add-region", "eu-west-1", "us-west-2")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "config", "add-region", "mars-north-1")
	assert.Error(t, err)

	_, err = execute(t, "--config", path, "config", "remove-region", "us-west-2")
	require.NoError(t, err)

	s, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{arn}, s.Snares)
	assert.Equal(t, []string{"eu-west-1"}, s.Regions)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "snares")
	assert.Contains(t, out, arn)
}

func TestConfigShowRedactsWebhook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "awsnare.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify:\n  slack_webhook: https://hooks.slack.com/services/T/B/secret\n"), 0644))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hooks.slack.com")
	assert.Contains(t, out, "[REDACTED]")
}

func TestWindowFlags(t *testing.T) {
	defer func() { detectOpts = detectFlags{} }()
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	detectOpts = detectFlags{}
	start, end, err := window(now, 7)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-03", start.Format(time.DateOnly))
	assert.Equal(t, "2024-05-10", end.Format(time.DateOnly))

	detectOpts = detectFlags{start: "2024-05-01", end: "2024-05-02"}
	start, end, err = window(now, 7)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", start.Format(time.DateOnly))
	assert.Equal(t, "2024-05-02", end.Format(time.DateOnly))

	detectOpts = detectFlags{end: "2024-05-05"}
	start, _, err = window(now, 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-03", start.Format(time.DateOnly))

	detectOpts = detectFlags{start: "05/01/2024"}
	_, _, err = window(now, 7)
	assert.Error(t, err)
}

func TestEngineConfigFromSettings(t *testing.T) {
	s, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	s.Snares = []string{"arn:aws:s3:::snare"}
	s.Detection.Dedup = "rule"

	cfg := engineConfig(s)
	assert.Equal(t, config.DefaultRulesFile, cfg.RulesFile)
	assert.Equal(t, config.DefaultStaging, cfg.StagingDir)
	assert.Equal(t, config.DefaultOutput, cfg.OutputDir)
	assert.Equal(t, config.DefaultWorkers, cfg.MaxConcurrency)
	assert.Equal(t, match.DedupRule, cfg.Dedup)
	assert.Equal(t, []string{"arn:aws:s3:::snare"}, cfg.Snares)
}

func TestRegionPicker(t *testing.T) {
	m := initialRegionModel([]string{"us-east-1"})
	require.NotContains(t, m.choices, "us-east-1")

	press := func(m regionModel, key string) regionModel {
		var msg tea.KeyMsg
		switch key {
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "space":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		next, _ := m.Update(msg)
		return next.(regionModel)
	}

	m = press(m, "x")
	m = press(m, "down")
	m = press(m, "down")
	m = press(m, "x")
	assert.Equal(t, []string{m.choices[0], m.choices[2]}, m.SelectedRegions())
	assert.Contains(t, m.View(), "[x] "+m.choices[0])

	m = press(m, "q")
	assert.Nil(t, m.SelectedRegions())
}

func TestPrintOutput(t *testing.T) {
	var buf bytes.Buffer
	printExplanation(&buf, trail.Explain("decoy-read", "Object read from a decoy bucket", trail.Record{
		"eventName":       "GetObject",
		"sourceIPAddress": "203.0.113.9",
	}))
	out := buf.String()
	assert.Contains(t, out, "decoy-read")
	assert.Contains(t, out, "eventName: GetObject sourceIPAddress: 203.0.113.9")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Object read from a decoy bucket")))

	buf.Reset()
	printSummary(&buf, &engine.Result{
		Hits:          []trail.Record{{}, {}},
		ArtifactPath:  "logs_detections/detections_20240502_150405.json",
		ParseFailures: 1,
	})
	assert.Contains(t, buf.String(), "[+] Saved 2 hits to logs_detections/detections_20240502_150405.json")
	assert.Contains(t, buf.String(), "1 archives failed to parse")
}
