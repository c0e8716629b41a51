// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package identity

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/datecs-bridge/internal/config"
)

// Kind selects how a rule matches the device information text.
type Kind string

// Rule kinds, as written in configuration
const (
	KindFieldMarker Kind = "FM"
	KindSerial      Kind = "SERIAL"
	KindText        Kind = "TEXT"
)

// Rule maps a fingerprint substring to a canonical device name.
type Rule struct {
	Name  string
	Kind  Kind
	Value string
}

// ParseRule parses "KIND:VALUE" for the named device. The value may itself
// contain colons.
func ParseRule(name, spec string) (Rule, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return Rule{}, fmt.Errorf("rule has no name")
	}
	kind, value, ok := strings.Cut(spec, ":")
	if !ok {
		return Rule{}, fmt.Errorf("rule %s: expected KIND:VALUE, got %q", name, spec)
	}
	k := Kind(strings.ToUpper(strings.TrimSpace(kind)))
	switch k {
	case KindFieldMarker, KindSerial, KindText:
	default:
		return Rule{}, fmt.Errorf("rule %s: unknown kind %q", name, kind)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Rule{}, fmt.Errorf("rule %s: empty value", name)
	}
	return Rule{Name: name, Kind: k, Value: value}, nil
}

// ParseRules converts configured rules, keeping their order. Malformed
// rules are dropped and logged; they never match anything.
func ParseRules(raw []config.Rule, logger zerolog.Logger) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rule, err := ParseRule(r.Name, r.Match)
		if err != nil {
			logger.Warn().Err(err).Str("rule", r.Name).Msg("ignoring fingerprint rule")
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// Matches reports whether raw contains the rule value. Text rules ignore
// case.
func (r Rule) Matches(raw string) bool {
	if r.Kind == KindText {
		return strings.Contains(strings.ToUpper(raw), strings.ToUpper(r.Value))
	}
	return strings.Contains(raw, r.Value)
}

func (r Rule) String() string {
	return r.Name + "=" + string(r.Kind) + ":" + r.Value
}

// Classify returns the name of the first rule matching raw, or "" when none
// does.
func Classify(rules []Rule, raw string) string {
	for _, r := range rules {
		if r.Matches(raw) {
			return r.Name
		}
	}
	return ""
}
