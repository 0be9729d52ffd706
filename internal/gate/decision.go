package gate

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Action is the gate classifier's verdict on an utterance that addressed the
// assistant.
type Action int

const (
	// ActionNone means the utterance needs no reaction. It is the safe
	// default for anything unparseable.
	ActionNone Action = iota

	// ActionRespond asks for a spoken reply.
	ActionRespond

	// ActionCommandEnd asks to end the meeting, pending confirmation.
	ActionCommandEnd
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionRespond:
		return "respond"
	case ActionCommandEnd:
		return "command_end"
	default:
		return "none"
	}
}

// Confirmation is the verdict on the requester's answer to a confirmation
// prompt.
type Confirmation int

const (
	// ConfirmUnclear leaves the pending command untouched. It is the safe
	// default for anything unparseable.
	ConfirmUnclear Confirmation = iota

	// ConfirmYes executes the pending command.
	ConfirmYes

	// ConfirmNo cancels the pending command.
	ConfirmNo
)

// String returns the wire name of the confirmation.
func (c Confirmation) String() string {
	switch c {
	case ConfirmYes:
		return "confirm"
	case ConfirmNo:
		return "deny"
	default:
		return "unclear"
	}
}

var errEmptyDecision = errors.New("gate: empty decision")

// ParseAction decodes a decision object such as {"action":"respond"}.
// Unknown variants yield [ActionNone]; the error is non-nil only when raw
// could not be decoded at all, and the returned action is then ActionNone.
func ParseAction(raw string) (Action, error) {
	var v struct {
		Action string `json:"action"`
	}
	if err := unmarshalDecision(raw, &v); err != nil {
		return ActionNone, err
	}
	switch strings.ToLower(strings.TrimSpace(v.Action)) {
	case "respond":
		return ActionRespond, nil
	case "command_end":
		return ActionCommandEnd, nil
	default:
		return ActionNone, nil
	}
}

// ParseConfirmation decodes a decision object such as {"decision":"deny"}.
// Unknown variants yield [ConfirmUnclear]; the error is non-nil only when
// raw could not be decoded at all, and the result is then ConfirmUnclear.
func ParseConfirmation(raw string) (Confirmation, error) {
	var v struct {
		Decision string `json:"decision"`
	}
	if err := unmarshalDecision(raw, &v); err != nil {
		return ConfirmUnclear, err
	}
	switch strings.ToLower(strings.TrimSpace(v.Decision)) {
	case "confirm":
		return ConfirmYes, nil
	case "deny":
		return ConfirmNo, nil
	default:
		return ConfirmUnclear, nil
	}
}

// unmarshalDecision decodes raw into v, stripping a Markdown code fence and
// repairing malformed JSON before giving up.
func unmarshalDecision(raw string, v any) error {
	s := stripFence(raw)
	if s == "" {
		return errEmptyDecision
	}
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
