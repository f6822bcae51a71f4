package reconcile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// scenario is a merge conformance case loaded from YAML: a local
// sequence and one or more remote batches applied in order. After each
// batch the merge outcome is snapshotted; the canonical serialization
// of all snapshots is compared against a golden file.
type scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Local       []scenarioElem   `yaml:"local"`
	Batches     [][]scenarioElem `yaml:"batches"`
	ExpectOrder []string         `yaml:"expect_order,omitempty"`
}

// scenarioElem is the compact element notation used in scenario files.
// Only merge-relevant fields are spelled out; everything else takes
// the defaults from el.
type scenarioElem struct {
	ID      string  `yaml:"id"`
	Version int64   `yaml:"version"`
	Nonce   int64   `yaml:"nonce"`
	X       float64 `yaml:"x,omitempty"`
	Deleted bool    `yaml:"deleted,omitempty"`
}

func loadScenario(t *testing.T, path string) scenario {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var s scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // reject typoed keys
	require.NoError(t, dec.Decode(&s), "parse %s", path)
	require.NotEmpty(t, s.Name, "%s: name is required", path)
	require.NotEmpty(t, s.Description, "%s: description is required", path)
	require.NotEmpty(t, s.Batches, "%s: batches list is required", path)
	return s
}

func buildElements(in []scenarioElem) []scene.Element {
	out := make([]scene.Element, len(in))
	for i, se := range in {
		e := el(se.ID, se.Version, se.Nonce)
		e.X = se.X
		e.Deleted = se.Deleted
		out[i] = e
	}
	return out
}

// summarize projects a merge result onto the fields scenarios care
// about, keeping golden files readable and stable under unrelated
// element model growth.
func summarize(res Result) map[string]any {
	list := make([]any, len(res.Elements))
	for i, e := range res.Elements {
		list[i] = map[string]any{
			"deleted": e.Deleted,
			"id":      e.ID,
			"nonce":   e.VersionNonce,
			"version": e.Version,
			"x":       e.X,
		}
	}
	return map[string]any{"changed": res.Changed, "elements": list}
}

func runScenario(t *testing.T, path string) {
	t.Helper()

	s := loadScenario(t, path)

	current := buildElements(s.Local)
	steps := make([]any, 0, len(s.Batches))
	for i, batch := range s.Batches {
		res, err := Elements(current, buildElements(batch))
		require.NoError(t, err, "batch %d", i)
		steps = append(steps, summarize(res))
		current = res.Elements
	}

	if len(s.ExpectOrder) > 0 {
		require.Equal(t, s.ExpectOrder, ids(current), "final ordering")
	}

	snapshot, err := scene.MarshalCanonical(map[string]any{
		"name":  s.Name,
		"steps": steps,
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, snapshot)
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			runScenario(t, path)
		})
	}
}
