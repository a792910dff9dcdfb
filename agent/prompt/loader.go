package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/scope.txt
	scopeRaw string

	//go:embed template/slots.txt
	slotsRaw string

	//go:embed template/analysis.txt
	analysisRaw string

	//go:embed template/response.txt
	responseRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Scope    string
	Slots    string
	Analysis string
	Response string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Scope:    strings.TrimSpace(scopeRaw),
		Slots:    strings.TrimSpace(slotsRaw),
		Analysis: strings.TrimSpace(analysisRaw),
		Response: strings.TrimSpace(responseRaw),
	}
}
