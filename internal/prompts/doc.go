// Package prompts contains the prompt text Jarvis sends to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated at runtime from memory and can be
// validated by tests. The persona lives in system.go, fixed nudges and
// fallbacks in agent.go, and the per-turn assembly in builder.go.
package prompts
