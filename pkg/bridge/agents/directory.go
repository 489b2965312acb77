// Package agents holds the static persona directory: a mapping from short
// codes (country codes and dialer test numbers) to ElevenLabs agents.
package agents

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Resolve for codes absent from the directory.
var ErrNotFound = errors.New("agent not found")

// Agent is one voice persona backed by an ElevenLabs agent id. Immutable
// after startup.
type Agent struct {
	Code     string `yaml:"-" json:"country_code"`
	AgentID  string `yaml:"agent_id" json:"agent_id"`
	Name     string `yaml:"name" json:"name"`
	Language string `yaml:"language" json:"language"`
	Context  string `yaml:"context,omitempty" json:"-"`
}

// Directory resolves codes to agents. Built once at startup; read-only after.
type Directory struct {
	agents      map[string]Agent
	defaultCode string
}

const DefaultCode = "AR"

// builtinAgents mirrors the demo persona set shipped with the dialer.
func builtinAgents() map[string]Agent {
	return map[string]Agent{
		"AR": {
			Code:     "AR",
			AgentID:  "agent_3601k52aw9jmej0a61svgk2hm0t1",
			Name:     "Agente Porteño",
			Language: "es-AR",
			Context:  "Sos un asistente argentino copado. Usá 'che', 'bárbaro'. Sé cordial y profesional.",
		},
		"AR_CBA": {
			Code:     "AR_CBA",
			AgentID:  "agent_4201k59pp9k7epq8t6pq5n79b9k1",
			Name:     "Agente Cordobés",
			Language: "es-AR",
			Context:  "Sos un asistente cordobés muy copado. Usá 'qué tal', 'todo joya'. Sé amigable y relajado.",
		},
		"MX": {
			Code:     "MX",
			AgentID:  "agent_3601k52b7a5nff29cgwj04h3m0xt",
			Name:     "Agente Mexicano",
			Language: "es-MX",
			Context:  "Eres un asistente amigable mexicano. Usa expresiones como 'qué onda', 'órale'. Sé cálido y servicial.",
		},
		"CO": {
			Code:     "CO",
			AgentID:  "agent_2201k52bqy0bff2ag591exhzjaxf",
			Name:     "Agente Colombiana",
			Language: "es-CO",
			Context:  "Eres una asistente colombiana amigable. Usa expresiones como 'parcero', 'qué más'. Sé cálida y servicial.",
		},
		"MENDOCINO": {
			Code:     "MENDOCINO",
			AgentID:  "agent_7601k57zdzznesfrwpf8hfpemjvf",
			Name:     "Mendocino",
			Language: "es-AR",
			Context:  "Context is configured on the ElevenLabs side; informational only.",
		},
	}
}

// NewDirectory builds the built-in directory.
func NewDirectory() *Directory {
	return &Directory{agents: builtinAgents(), defaultCode: DefaultCode}
}

// LoadDirectory builds the directory, overlaying entries from an optional
// YAML file. File entries win over built-ins for the same code; new codes are
// added. An empty path yields the built-ins unchanged.
func LoadDirectory(path string) (*Directory, error) {
	dir := NewDirectory()
	if strings.TrimSpace(path) == "" {
		return dir, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file %q: %w", path, err)
	}

	var file struct {
		Default string           `yaml:"default"`
		Agents  map[string]Agent `yaml:"agents"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse agents file %q: %w", path, err)
	}

	for code, a := range file.Agents {
		code = normalizeCode(code)
		if code == "" {
			continue
		}
		if strings.TrimSpace(a.AgentID) == "" {
			return nil, fmt.Errorf("agents file %q: agent %q has no agent_id", path, code)
		}
		a.Code = code
		if strings.TrimSpace(a.Name) == "" {
			a.Name = code
		}
		dir.agents[code] = a
	}

	if d := normalizeCode(file.Default); d != "" {
		if _, ok := dir.agents[d]; !ok {
			return nil, fmt.Errorf("agents file %q: default %q is not in the directory", path, d)
		}
		dir.defaultCode = d
	}
	return dir, nil
}

// Resolve returns the agent for code, matching by exact (case-normalized)
// equality. Unknown codes return ErrNotFound.
func (d *Directory) Resolve(code string) (Agent, error) {
	a, ok := d.agents[normalizeCode(code)]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	return a, nil
}

// ResolveOrDefault falls back to the default agent for unknown or empty codes.
func (d *Directory) ResolveOrDefault(code string) Agent {
	if a, err := d.Resolve(code); err == nil {
		return a
	}
	return d.Default()
}

// Default returns the directory's fallback agent.
func (d *Directory) Default() Agent {
	return d.agents[d.defaultCode]
}

// All returns every agent sorted by code.
func (d *Directory) All() []Agent {
	out := make([]Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
