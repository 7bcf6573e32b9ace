package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`agrohub_[a-z_]+`)

func loadAlertRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "agrohub.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "agrohub" {
			return g.Rules
		}
	}
	t.Fatal("agrohub alert group missing")
	return nil
}

func TestAlertRulesAreComplete(t *testing.T) {
	rules := loadAlertRules(t)
	severities := map[string]string{
		"HighErrorRate":   "critical",
		"HighLatency":     "warning",
		"TunnelHostSurge": "warning",
	}
	require.Len(t, rules, len(severities))

	for _, rule := range rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, want, rule.Labels["severity"], rule.Alert)
		assert.True(t, strings.HasPrefix(rule.Annotations["runbook"], "docs/runbook.md#"), rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
	}
}

// Every series an alert queries must be one the web front actually exports.
func TestAlertRulesReferenceExportedMetrics(t *testing.T) {
	m := NewMetrics()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	body := scrape(t, m)

	for _, rule := range loadAlertRules(t) {
		names := metricName.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, names, "rule %s queries no agrohub series", rule.Alert)
		for _, name := range names {
			base := strings.TrimSuffix(name, "_bucket")
			assert.Contains(t, body, "# TYPE "+base+" ", "rule %s references %s", rule.Alert, name)
		}
	}
}
