// Package contentgate pattern-matches user messages against a fixed,
// ordered ruleset of instruction-override signatures before any model call.
// It is cheap triage, not the sole defense: false positives just ask the
// user to rephrase, false negatives are caught by the model's own hardened
// operating instructions downstream. Blocked messages must never consume
// token or spend budget, so the gate runs before any counter is touched.
package contentgate

import (
	"fmt"
	"regexp"

	warden "github.com/wardenlabs/warden/internal"
)

// Signature categories, used as the reason tag on a block.
const (
	ReasonInstructionOverride = "instruction_override"
	ReasonRoleReassignment    = "role_reassignment"
	ReasonPromptExfiltration  = "prompt_exfiltration"
	ReasonDelimiterInjection  = "delimiter_injection"
	ReasonOfftopicRoleplay    = "offtopic_roleplay"
	ReasonCodeExecution       = "code_execution"
)

// Signature is a single detection pattern with its category tag.
type Signature struct {
	Reason  string `yaml:"reason"`
	Pattern string `yaml:"pattern"`
}

// Decision is the outcome of classifying a message.
type Decision struct {
	Blocked bool
	Reason  string // category of the first matching signature
}

// Gate evaluates an ordered signature list. Classification is pure and
// deterministic: same input, same decision, same reason.
type Gate struct {
	rules []rule
}

type rule struct {
	reason string
	re     *regexp.Regexp
}

// DefaultSignatures is the built-in ruleset, ordered so the most specific
// intent categories are reported first.
func DefaultSignatures() []Signature {
	return []Signature{
		{ReasonInstructionOverride, `(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(previous|prior|above|earlier|all)\b.{0,40}\b(instructions?|prompts?|rules?|directives?)\b`},
		{ReasonInstructionOverride, `(?i)\bnew (instructions?|rules?)\s*:`},
		{ReasonInstructionOverride, `(?i)\bdo not follow\b.{0,30}\b(instructions?|rules?|guidelines?)\b`},
		{ReasonPromptExfiltration, `(?i)\b(reveal|show|print|repeat|output|display|leak)\b.{0,40}\b(system prompt|initial prompt|hidden (instructions?|prompt)|your (instructions?|prompt|rules))`},
		{ReasonPromptExfiltration, `(?i)\bwhat (are|were) your (instructions|rules|system prompt)\b`},
		{ReasonRoleReassignment, `(?i)\byou are (now|no longer)\b`},
		{ReasonRoleReassignment, `(?i)\b(pretend|act) as (a|an|my|the)\b`},
		{ReasonRoleReassignment, `(?i)\bfrom now on,? you\b`},
		{ReasonDelimiterInjection, `(?i)<\|?(im_start|im_end|endoftext|system)\|?>`},
		{ReasonDelimiterInjection, `(?i)\[\s*(system|assistant)\s*\]\s*:`},
		{ReasonDelimiterInjection, "(?i)```\\s*system"},
		{ReasonOfftopicRoleplay, `(?i)\b(jailbreak|dan mode|developer mode|evil mode)\b`},
		{ReasonOfftopicRoleplay, `(?i)\brole-?play\b.{0,30}\b(as|with|where)\b`},
		{ReasonCodeExecution, `(?i)\b(run|execute|eval)\b.{0,30}\b(this )?(code|script|shell|bash|python|command)\b`},
		{ReasonCodeExecution, `(?i)\b(os\.system|subprocess|exec\()`},
	}
}

// New compiles the given signatures into a Gate. Order is preserved:
// first match wins and supplies the reason tag.
func New(signatures []Signature) (*Gate, error) {
	rules := make([]rule, 0, len(signatures))
	for i, s := range signatures {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile signature %d (%s): %w", i, s.Reason, err)
		}
		rules = append(rules, rule{reason: s.Reason, re: re})
	}
	return &Gate{rules: rules}, nil
}

// Classify evaluates the message against the ruleset in order.
func (g *Gate) Classify(text string) Decision {
	for _, r := range g.rules {
		if r.re.MatchString(text) {
			return Decision{Blocked: true, Reason: r.reason}
		}
	}
	return Decision{}
}

// Check classifies the message and converts a block into a GateError.
func (g *Gate) Check(text string) error {
	if d := g.Classify(text); d.Blocked {
		return &warden.GateError{Reason: d.Reason}
	}
	return nil
}
