package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := NewViper("")
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, s.Provider)
	assert.Equal(t, "deep", s.Agency)
	assert.Equal(t, 100, s.MinReportChars)
	assert.Equal(t, 1, s.ClarificationRounds)
	assert.Equal(t, 25, s.MaxTurns)
	assert.Equal(t, "gemini-2.5-flash", s.DefaultModel())
	assert.Equal(t, filepath.Join("data", "agency.db"), s.DBPath())
}

func TestEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("TAVILY_API_KEY", "t-key")
	t.Setenv("AGENCY_CLARIFIER_ROLE", "Asker")
	t.Setenv("AGENCY_RESEARCHER_ROLE", "Writer")
	t.Setenv("AGENCY_MIN_REPORT_CHARS", "250")
	t.Setenv("AGENCY_MODEL", "gemini-2.5-pro")

	v, err := NewViper("")
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "g-key", s.APIKey())
	assert.Equal(t, "t-key", s.TavilyAPIKey)
	assert.Equal(t, "Asker", s.ClarifierRole)
	assert.Equal(t, "Writer", s.ResearcherRole)
	assert.Equal(t, 250, s.MinReportChars)
	assert.Equal(t, "gemini-2.5-pro", s.DefaultModel())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: openai\nclarification_rounds: 2\nagency: basic\n"), 0o644))

	v, err := NewViper(path)
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, s.Provider)
	assert.Equal(t, 2, s.ClarificationRounds)
	assert.Equal(t, "basic", s.Agency)
	assert.Equal(t, "gpt-4.1", s.DefaultModel())

	_, err = NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	s := &Settings{Provider: "anthropic"}
	assert.ErrorContains(t, s.Validate(), "unknown provider")

	s = &Settings{Provider: ProviderGemini, MinReportChars: -1}
	assert.Error(t, s.Validate())
}

func TestBuiltinAgencies(t *testing.T) {
	assert.Equal(t, []string{"basic", "deep"}, BuiltinAgencies())

	deep, err := LoadAgency("deep")
	require.NoError(t, err)
	assert.Equal(t, domain.Roles{
		Entry:      "Triage Agent",
		Clarifier:  "Clarifying Questions Agent",
		Researcher: "Research Agent",
	}, deep.Roles)
	require.Len(t, deep.Agents, 4)
	clarifier, ok := deep.Agent("Clarifying Questions Agent")
	require.True(t, ok)
	assert.Equal(t, domain.OutputClarifications, clarifier.Output)

	basic, err := LoadAgency("basic")
	require.NoError(t, err)
	assert.True(t, basic.Roles.SingleAgent())
}

func TestLoadAgencyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: mine
model: m1
entry: Solo
researcher: Solo
agents:
  - name: Solo
    instructions: do it
    tools: [web_search]
`), 0o644))

	def, err := LoadAgency(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", def.Name)
	assert.Equal(t, "Solo", def.Roles.Entry)
	assert.Equal(t, []string{"web_search"}, def.Agents[0].Tools)

	_, err = LoadAgency("nope")
	assert.ErrorContains(t, err, "neither built in")

	_, err = ParseAgency([]byte("name: x\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	def := domain.AgencyDef{
		Roles:  domain.Roles{Entry: "A", Clarifier: "B", Researcher: "C"},
		Agents: []domain.Agent{{Name: "A", Model: "custom"}},
	}

	s := &Settings{Provider: ProviderGemini, ResearcherRole: "D"}
	got := s.Apply(def)
	assert.Equal(t, "gemini-2.5-flash", got.Model)
	assert.Equal(t, "custom", got.Agents[0].Model)
	assert.Equal(t, "B", got.Roles.Clarifier)
	assert.Equal(t, "D", got.Roles.Researcher)

	s = &Settings{Provider: ProviderGemini, Model: "override"}
	got = s.Apply(def)
	assert.Equal(t, "override", got.Model)
	assert.Empty(t, got.Agents[0].Model)
	assert.Equal(t, "custom", def.Agents[0].Model, "input is not modified")
}
