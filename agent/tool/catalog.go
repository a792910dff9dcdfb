package tool

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

const (
	ToolLiveInformation = "live_information"
	ToolKnowledgeBase   = "knowledge_base"
	ToolVerification    = "verification"
	ToolImageAnalysis   = "image_analysis"
	ToolOrderAction     = "order_action"
	ToolAssignAgent     = "assign_agent"
	ToolRaiseTicket     = "raise_ticket"
)

const (
	SlotOrderID        = "order_id"
	SlotPhotoReference = "photo_reference"
	SlotCustomerName   = "customer_name"
	SlotPhone          = "phone"
)

var (
	ErrDuplicateTool   = errors.New("duplicate tool name")
	ErrUnknownClass    = errors.New("unknown capability class")
	ErrUnknownDepend   = errors.New("dependency names an unknown tool")
	ErrDependencyCycle = errors.New("tool dependencies form a cycle")
)

// Guard inspects prerequisite results before a dependent call runs. A non-nil
// error skips the call as dependency_failed.
type Guard func(prereqs map[string]contractx.ToolResult) error

type Entry struct {
	Name          string
	Class         contractx.CapabilityClass
	RequiredSlots []string
	Produces      []string
	DependsOn     []string
	// Immediate commitments run without a prior offer.
	Immediate bool
	Purpose   string
	UseWhen   string
	Important string
	Guard     Guard
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries  map[string]Entry
	order    []string
	patterns map[string][]*regexp.Regexp
}

func NewCatalog(entries ...Entry) (*Catalog, error) {
	c := &Catalog{
		entries:  make(map[string]Entry, len(entries)),
		order:    make([]string, 0, len(entries)),
		patterns: defaultSlotPatterns(),
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty tool name", contractx.ErrValidation)
		}
		if _, dup := c.entries[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		switch e.Class {
		case contractx.ClassInformational, contractx.ClassCommitment:
		default:
			return nil, fmt.Errorf("%w: %s=%q", ErrUnknownClass, name, e.Class)
		}
		e.Name = name
		e.RequiredSlots = append([]string(nil), e.RequiredSlots...)
		e.Produces = append([]string(nil), e.Produces...)
		e.DependsOn = append([]string(nil), e.DependsOn...)
		c.entries[name] = e
		c.order = append(c.order, name)
	}

	for _, name := range c.order {
		for _, dep := range c.entries[name].DependsOn {
			if _, ok := c.entries[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDepend, name, dep)
			}
		}
	}
	if err := c.checkCycles(); err != nil {
		return nil, err
	}
	return c, nil
}

func MustNewCatalog(entries ...Entry) *Catalog {
	c, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog describes the customer-support tool set.
func DefaultCatalog() *Catalog {
	return MustNewCatalog(
		Entry{
			Name:          ToolLiveInformation,
			Class:         contractx.ClassInformational,
			RequiredSlots: []string{SlotOrderID},
			Produces:      []string{"data"},
			Purpose:       "Get real-time order and customer information",
			UseWhen:       "Customer asks about order status, tracking, delivery, order history",
		},
		Entry{
			Name:     ToolKnowledgeBase,
			Class:    contractx.ClassInformational,
			Produces: []string{"articles", "retrieved"},
			Purpose:  "Search company policies, FAQs, product guides",
			UseWhen:  "Customer asks about policies, returns, shipping info, product questions",
		},
		Entry{
			Name:          ToolVerification,
			Class:         contractx.ClassInformational,
			RequiredSlots: []string{SlotOrderID},
			Produces:      []string{"risk_level", "recommendation"},
			Purpose:       "Fraud check and risk assessment for sensitive operations",
			UseWhen:       "Before processing refunds, cancellations, or account changes",
		},
		Entry{
			Name:          ToolImageAnalysis,
			Class:         contractx.ClassInformational,
			RequiredSlots: []string{SlotPhotoReference},
			Produces:      []string{"analysis", "ai_detection"},
			Purpose:       "Analyze product photos for damage, defects, or issues",
			UseWhen:       "Customer reports broken/defective item AND has shared a photo",
		},
		Entry{
			Name:          ToolOrderAction,
			Class:         contractx.ClassCommitment,
			RequiredSlots: []string{SlotOrderID},
			Produces:      []string{"action", "status", "refund_amount", "replacement_order_id", "tracking_number", "label_url"},
			DependsOn:     []string{ToolVerification},
			Purpose:       "Process refund, cancel, replace, generate return label",
			UseWhen:       "After verification passes with low/medium risk",
			Important:     "Always use verification tool FIRST before this",
			Guard:         RiskBelowHigh,
		},
		Entry{
			Name:      ToolAssignAgent,
			Class:     contractx.ClassCommitment,
			Produces:  []string{"agent_info", "eta", "channel", "assignment_id"},
			Immediate: true,
			Purpose:   "Escalate to human agent for immediate help",
			UseWhen:   "Very frustrated customer, urgent/complex issue, high fraud risk, customer requests human, sensitive operations after verification",
		},
		Entry{
			Name:     ToolRaiseTicket,
			Class:    contractx.ClassCommitment,
			Produces: []string{"ticket_id", "reference", "status", "priority", "category"},
			Purpose:  "Create support ticket for investigation",
			UseWhen:  "Issue needs research (warehouse/courier checks) but is not urgent",
		},
	)
}

// RiskBelowHigh rejects a dependent action when verification reported high risk.
func RiskBelowHigh(prereqs map[string]contractx.ToolResult) error {
	res, ok := prereqs[ToolVerification]
	if !ok {
		return nil
	}
	if level := RiskLevel(res.Payload); level == "high" {
		return errors.New("verification reported high risk")
	}
	return nil
}

// RiskLevel reads the risk level from a verification payload.
func RiskLevel(payload map[string]any) string {
	if fc, ok := payload["fraud_check"].(map[string]any); ok {
		if s, ok := fc["risk_level"].(string); ok && s != "" {
			return strings.ToLower(s)
		}
	}
	if s, ok := payload["risk_level"].(string); ok && s != "" {
		return strings.ToLower(s)
	}
	return "unknown"
}

/* -------------------------------- lookups ------------------------------- */

func (c *Catalog) Entry(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// ClassOf returns "" for unknown tools.
func (c *Catalog) ClassOf(name string) contractx.CapabilityClass {
	return c.entries[name].Class
}

func (c *Catalog) RequiredSlotsOf(name string) []string {
	return append([]string(nil), c.entries[name].RequiredSlots...)
}

func (c *Catalog) DependsOn(name string) []string {
	return append([]string(nil), c.entries[name].DependsOn...)
}

func (c *Catalog) IsImmediate(name string) bool {
	e, ok := c.entries[name]
	return ok && e.Class == contractx.ClassCommitment && e.Immediate
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Descriptions renders the catalog as tool infos for the analysis oracle.
func (c *Catalog) Descriptions() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		e := c.entries[name]

		var desc strings.Builder
		fmt.Fprintf(&desc, "[%s] %s. Use when: %s.", e.Class, e.Purpose, e.UseWhen)
		if e.Important != "" {
			fmt.Fprintf(&desc, " Important: %s.", e.Important)
		}
		if e.Class == contractx.ClassCommitment {
			if e.Immediate {
				desc.WriteString(" Runs immediately when clearly requested.")
			} else {
				desc.WriteString(" Requires the customer to confirm an offer first.")
			}
		}

		params := map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "What to look up or do, in one sentence", Required: true},
		}
		for _, slot := range e.RequiredSlots {
			params[slot] = &schema.ParameterInfo{Type: schema.String, Desc: "Required input " + slot, Required: true}
		}

		out = append(out, &schema.ToolInfo{
			Name:        name,
			Desc:        desc.String(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

// MatchSlot scans text with the catalog's deterministic pattern for slot.
func (c *Catalog) MatchSlot(slot, text string) (string, bool) {
	for _, re := range c.patterns[slot] {
		if m := re.FindStringSubmatch(text); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

func defaultSlotPatterns() map[string][]*regexp.Regexp {
	return map[string][]*regexp.Regexp{
		SlotOrderID: {
			regexp.MustCompile(`(?i)\border\b[^0-9\n]{0,24}#?\s*(\d{5,12})\b`),
			regexp.MustCompile(`^\s*#?(\d{5,12})\s*[.!]?\s*$`),
		},
	}
}

func (c *Catalog) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(c.entries))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		marks[name] = visiting
		deps := append([]string(nil), c.entries[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}

	for _, name := range c.order {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}
