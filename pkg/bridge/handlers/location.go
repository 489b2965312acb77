package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
)

// countryAgents maps ISO country codes to directory codes. Countries without
// a dedicated persona get the closest accent.
var countryAgents = map[string]string{
	"AR": "AR",
	"MX": "MX",
	"CO": "CO",
	"ES": "MX",
	"PE": "CO",
	"CL": "AR",
	"UY": "AR",
	"PY": "AR",
	"BO": "CO",
	"EC": "CO",
	"VE": "CO",
	"PA": "CO",
	"CR": "MX",
	"GT": "MX",
	"HN": "MX",
	"SV": "MX",
	"NI": "MX",
	"DO": "CO",
	"PR": "CO",
	"CU": "CO",
}

// argentinaRegions routes Argentine cities to regional personas.
var argentinaRegions = map[string]string{
	"córdoba":          "AR_CBA",
	"cordoba":          "AR_CBA",
	"villa carlos paz": "AR_CBA",
	"río cuarto":       "AR_CBA",
	"villa maría":      "AR_CBA",

	"mendoza":    "MENDOCINO",
	"san rafael": "MENDOCINO",
	"san juan":   "MENDOCINO",
	"san luis":   "MENDOCINO",

	"buenos aires":    "AR",
	"capital federal": "AR",
	"caba":            "AR",
	"la plata":        "AR",
	"mar del plata":   "AR",
	"rosario":         "AR",
	"santa fe":        "AR",
	"tucumán":         "AR",
	"salta":           "AR",
}

// LocationHandler suggests an agent from whatever location hints the caller
// has: a phone number, an ISO country code, and optionally a city.
type LocationHandler struct {
	Deps
}

func (h LocationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	phone := strings.TrimSpace(q.Get("phone"))
	country := strings.ToUpper(strings.TrimSpace(q.Get("country")))
	city := strings.ToLower(strings.TrimSpace(q.Get("city")))

	code := suggestCode(country, city, phone)
	agent := h.Directory.ResolveOrDefault(code)

	message := "Puedes elegir cualquier agente!"
	switch {
	case city != "" && country != "":
		message = fmt.Sprintf("Detectamos que estás en %s, %s. Te sugerimos hablar con %s!", city, country, agent.Name)
	case country != "":
		message = fmt.Sprintf("Detectamos que estás en %s. Te sugerimos hablar con %s!", country, agent.Name)
	case phone != "":
		message = fmt.Sprintf("Te sugerimos hablar con %s!", agent.Name)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"country_code": agent.Code,
		"agent_id":     agent.AgentID,
		"agent_name":   agent.Name,
		"language":     agent.Language,
		"message":      message,
	})
}

func suggestCode(country, city, phone string) string {
	if country == "AR" && city != "" {
		for location, code := range argentinaRegions {
			if strings.Contains(city, location) {
				return code
			}
		}
	}
	if code, ok := countryAgents[country]; ok {
		return code
	}
	if phone != "" {
		return agents.DetectCode(phone)
	}
	return agents.DefaultCode
}
