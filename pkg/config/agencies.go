package config

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nstogner/agency/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed agencies/*.yaml
var builtins embed.FS

// BuiltinAgencies returns the names of the embedded agency definitions.
func BuiltinAgencies() []string {
	entries, _ := builtins.ReadDir("agencies")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadAgency returns the built-in definition called nameOrPath, or parses the
// YAML file at that path.
func LoadAgency(nameOrPath string) (domain.AgencyDef, error) {
	data, err := builtins.ReadFile("agencies/" + nameOrPath + ".yaml")
	if err != nil {
		data, err = os.ReadFile(nameOrPath)
		if err != nil {
			return domain.AgencyDef{}, fmt.Errorf("agency %q is neither built in (%s) nor a readable file: %w",
				nameOrPath, strings.Join(BuiltinAgencies(), ", "), err)
		}
	}
	return ParseAgency(data)
}

// ParseAgency decodes a YAML agency definition. Unknown fields are rejected.
func ParseAgency(data []byte) (domain.AgencyDef, error) {
	var def domain.AgencyDef
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return domain.AgencyDef{}, fmt.Errorf("parsing agency definition: %w", err)
	}
	return def, nil
}

// Apply layers settings over a definition: the default model fills agents
// without one, and role overrides replace the definition's roles.
func (s *Settings) Apply(def domain.AgencyDef) domain.AgencyDef {
	if s.Model != "" || def.Model == "" {
		def.Model = s.DefaultModel()
	}
	if s.Model != "" {
		agents := make([]domain.Agent, len(def.Agents))
		for i, a := range def.Agents {
			a.Model = ""
			agents[i] = a
		}
		def.Agents = agents
	}
	if s.ClarifierRole != "" {
		def.Roles.Clarifier = s.ClarifierRole
	}
	if s.ResearcherRole != "" {
		def.Roles.Researcher = s.ResearcherRole
	}
	return def
}
