package oracle

const scopeOutputFormat = `{"verdict": "in_scope | out_of_scope", "topic": "short label or empty"}`

const slotsOutputFormat = `{
  "current": {"slot_name": "value stated in the current message"},
  "from_history": {"slot_name": "value found in earlier customer messages"},
  "refused": ["slot_name"],
  "help_requested": ["slot_name"]
}`

const analysisOutputFormat = `{
  "language": "en",
  "intent": "snake_case_label",
  "sentiment": {"emotion": "neutral", "intensity": "low | medium | high", "urgency": "low | medium | high"},
  "needs_de_escalation": false,
  "de_escalation_approach": "",
  "needs_more_info": false,
  "missing_info": ["slot_name"],
  "intent_slots": ["slot_name"],
  "tool_plan": [{"tool": "tool_name", "query": "one sentence", "reason": "why"}],
  "confirmation": {"signal": "affirmative | negative | ambiguous | none", "target": "tool_name or empty"}
}`
