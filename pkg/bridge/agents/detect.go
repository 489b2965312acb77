package agents

import "strings"

// testNumbers are the dialer's quick-dial shortcuts.
var testNumbers = map[string]string{
	"111": "AR",
	"444": "AR_CBA",
	"222": "MX",
	"333": "CO",
	"555": "MENDOCINO",
}

// countryPrefixes maps international dialing prefixes to directory codes.
var countryPrefixes = map[string]string{
	"54": "AR",
	"52": "MX",
	"57": "CO",
}

// DetectCode derives a directory code from a dialed number: test numbers
// first, then international prefixes, else the default code. Spaces and
// dashes are ignored.
func DetectCode(phone string) string {
	clean := cleanNumber(phone)

	if code, ok := testNumbers[clean]; ok {
		return code
	}

	digits := strings.TrimPrefix(clean, "+")
	for prefix, code := range countryPrefixes {
		if strings.HasPrefix(digits, prefix) {
			return code
		}
	}
	return DefaultCode
}

// Select pins the agent selection precedence: an explicit country code wins
// when it resolves, an unresolvable one falls through to phone-derived
// detection, and the directory default covers the rest.
func (d *Directory) Select(explicit, phone string) Agent {
	if strings.TrimSpace(explicit) != "" {
		if a, err := d.Resolve(explicit); err == nil {
			return a
		}
	}
	if strings.TrimSpace(phone) != "" {
		return d.ResolveOrDefault(DetectCode(phone))
	}
	return d.Default()
}

func cleanNumber(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(strings.TrimSpace(phone))
}
