package cart

import (
	"strconv"
	"strings"
)

// QuantityRule carries the bounds rendered on a quantity input. Max 0 means
// unbounded; Step below 1 is treated as 1.
type QuantityRule struct {
	Min  int `yaml:"min" json:"min"`
	Max  int `yaml:"max" json:"max"`
	Step int `yaml:"step" json:"step"`
}

// QuantityMessages are the validation templates with [min], [max] and [step]
// placeholders.
type QuantityMessages struct {
	MinError  string `yaml:"min_error" json:"min_error"`
	MaxError  string `yaml:"max_error" json:"max_error"`
	StepError string `yaml:"step_error" json:"step_error"`
}

// DefaultQuantityMessages mirror the storefront's quick order list strings.
var DefaultQuantityMessages = QuantityMessages{
	MinError:  "This item has a minimum of [min]",
	MaxError:  "You can't add more than [max] of this item",
	StepError: "You can only add this item in increments of [step]",
}

// Violation names which bound a quantity broke.
type Violation string

const (
	ViolationMin  Violation = "min"
	ViolationMax  Violation = "max"
	ViolationStep Violation = "step"
)

// ValidationError is returned for quantities rejected before any request.
type ValidationError struct {
	Violation Violation
	Limit     int
	Message   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateQuantity checks value against rule. The first broken bound wins, in
// the order min, max, step.
func ValidateQuantity(value int, rule QuantityRule, msgs QuantityMessages) error {
	msgs = msgs.withDefaults()
	step := rule.Step
	if step < 1 {
		step = 1
	}

	switch {
	case value < rule.Min:
		return &ValidationError{ViolationMin, rule.Min, fill(msgs.MinError, "[min]", rule.Min)}
	case rule.Max > 0 && value > rule.Max:
		return &ValidationError{ViolationMax, rule.Max, fill(msgs.MaxError, "[max]", rule.Max)}
	case value%step != 0:
		return &ValidationError{ViolationStep, step, fill(msgs.StepError, "[step]", step)}
	}
	return nil
}

func (m QuantityMessages) withDefaults() QuantityMessages {
	if m.MinError == "" {
		m.MinError = DefaultQuantityMessages.MinError
	}
	if m.MaxError == "" {
		m.MaxError = DefaultQuantityMessages.MaxError
	}
	if m.StepError == "" {
		m.StepError = DefaultQuantityMessages.StepError
	}
	return m
}

func fill(tmpl, placeholder string, n int) string {
	return strings.Replace(tmpl, placeholder, strconv.Itoa(n), 1)
}
