package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/provengine/pkg/metadata"
)

// ParseInstructions parses an instruction string into actions for a unit of
// type tpType. The grammar is
//
//	instructions := statement (";" statement)*
//	statement    := name "(" [arg ("," arg)*] ")"
//	arg          := key ":" value
//
// Reserved characters inside keys and values are written as ${#NN} with NN
// the decimal character code, for example ${#59} for ';'. Other ${name}
// references are kept and substituted when the action runs.
func ParseInstructions(text string, tpType metadata.TouchpointType, registry *ActionRegistry) ([]Action, error) {
	statements := strings.Split(text, ";")
	actions := make([]Action, 0, len(statements))

	for _, raw := range statements {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}

		name, args, err := parseStatement(stmt)
		if err != nil {
			return nil, err
		}

		factory, qualified, err := registry.Resolve(name, tpType)
		if err != nil {
			return nil, err
		}

		action := factory()
		if action == nil {
			return nil, NewActionError(fmt.Sprintf("factory for %q returned nil", qualified), nil).WithAction(qualified)
		}
		actions = append(actions, NewParameterizedAction(qualified, action, args, registry.touchpointFor(qualified)))
	}

	return actions, nil
}

func parseStatement(stmt string) (string, map[string]string, error) {
	open := strings.Index(stmt, "(")
	if open <= 0 || !strings.HasSuffix(stmt, ")") {
		return "", nil, instructionError(stmt, "expected name(args)")
	}

	name := strings.TrimSpace(stmt[:open])
	body := stmt[open+1 : len(stmt)-1]
	if strings.ContainsAny(body, "()") {
		return "", nil, instructionError(stmt, "unbalanced parentheses")
	}

	args := make(map[string]string)
	if strings.TrimSpace(body) == "" {
		return name, args, nil
	}

	for _, pair := range strings.Split(body, ",") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			return "", nil, instructionError(stmt, fmt.Sprintf("argument %q has no value", strings.TrimSpace(pair)))
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return "", nil, instructionError(stmt, "empty argument name")
		}

		k, err := unescape(key)
		if err != nil {
			return "", nil, instructionError(stmt, err.Error())
		}
		v, err := unescape(strings.TrimSpace(value))
		if err != nil {
			return "", nil, instructionError(stmt, err.Error())
		}
		args[k] = v
	}
	return name, args, nil
}

// unescape decodes ${#NN} character references.
func unescape(s string) (string, error) {
	if !strings.Contains(s, "${#") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${#")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated character reference in %q", s)
		}
		end += start

		code, err := strconv.Atoi(rest[start+3 : end])
		if err != nil || code < 0 {
			return "", fmt.Errorf("invalid character reference %q", rest[start:end+1])
		}
		b.WriteString(rest[:start])
		b.WriteRune(rune(code))
		rest = rest[end+1:]
	}
}

// escape encodes the characters reserved by the instruction grammar.
func escape(s string) string {
	if !strings.ContainsAny(s, ";,:()") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ';', ',', ':', '(', ')':
			fmt.Fprintf(&b, "${#%d}", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func instructionError(stmt, reason string) error {
	return NewError(ErrorClassAction, "invalid instruction: "+reason, nil).
		WithCode(ErrCodeInstruction).
		WithDetail("instruction", stmt)
}
