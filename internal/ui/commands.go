// Package ui defines the presentation commands emitted by the cart adapters
// and the free sample engine. Commands describe what a page should change;
// a Presenter decides how.
package ui

import "fmt"

// Kind identifies a command.
type Kind string

const (
	KindShowWidget           Kind = "show_widget"
	KindHideWidget           Kind = "hide_widget"
	KindSetProgress          Kind = "set_progress"
	KindEndProgressAnimation Kind = "end_progress_animation"
	KindSetMessage           Kind = "set_message"
	KindMarkFulfilled        Kind = "mark_fulfilled"
	KindRenderSection        Kind = "render_section"
	KindShowNotification     Kind = "show_notification"
	KindFadeNotification     Kind = "fade_notification"
	KindRemoveNotification   Kind = "remove_notification"
	KindSetLoading           Kind = "set_loading"
	KindLineError            Kind = "line_error"
	KindLiveRegion           Kind = "live_region"
	KindLineStatus           Kind = "line_status"
	KindCartError            Kind = "cart_error"
	KindSetEmpty             Kind = "set_empty"
	KindSetValidity          Kind = "set_validity"
	KindResetInput           Kind = "reset_input"
)

// Command is a single presentation change. Only the fields relevant to Kind
// are set.
type Command struct {
	Kind      Kind   `json:"kind"`
	Target    string `json:"target,omitempty"`
	Line      int    `json:"line,omitempty"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	Label     string `json:"label,omitempty"`
	Value     int    `json:"value,omitempty"`
	AnimateTo int    `json:"animate_to,omitempty"`
	Success   bool   `json:"success,omitempty"`
	On        bool   `json:"on,omitempty"`
}

func (c Command) String() string {
	switch {
	case c.Target != "" && c.Line != 0:
		return fmt.Sprintf("%s(%s, line %d)", c.Kind, c.Target, c.Line)
	case c.Target != "":
		return fmt.Sprintf("%s(%s)", c.Kind, c.Target)
	case c.Line != 0:
		return fmt.Sprintf("%s(line %d)", c.Kind, c.Line)
	}
	return string(c.Kind)
}

func ShowWidget(id string) Command { return Command{Kind: KindShowWidget, Target: id} }
func HideWidget(id string) Command { return Command{Kind: KindHideWidget, Target: id} }

// SetProgress updates a widget's progress bar. animateTo is the value rounded
// to the nearest 5 used by the CSS animation.
func SetProgress(id string, value, animateTo int, label string) Command {
	return Command{Kind: KindSetProgress, Target: id, Value: value, AnimateTo: animateTo, Label: label}
}

func EndProgressAnimation(id string) Command {
	return Command{Kind: KindEndProgressAnimation, Target: id}
}

// SetMessage replaces a widget's message. success selects the success style.
func SetMessage(id, text string, success bool) Command {
	return Command{Kind: KindSetMessage, Target: id, Text: text, Success: success}
}

func MarkFulfilled(id string) Command { return Command{Kind: KindMarkFulfilled, Target: id} }

// RenderSection replaces the contents of a page section with html.
func RenderSection(id, html string) Command {
	return Command{Kind: KindRenderSection, Target: id, HTML: html}
}

func ShowNotification() Command   { return Command{Kind: KindShowNotification} }
func FadeNotification() Command   { return Command{Kind: KindFadeNotification} }
func RemoveNotification() Command { return Command{Kind: KindRemoveNotification} }

func SetLoading(line int, on bool) Command {
	return Command{Kind: KindSetLoading, Line: line, On: on}
}

func LineError(line int, text string) Command {
	return Command{Kind: KindLineError, Line: line, Text: text}
}

// LiveRegion shows (on) or hides the cart status live region.
func LiveRegion(on bool) Command { return Command{Kind: KindLiveRegion, On: on} }

// LineStatus shows (on) or hides the line item status live region.
func LineStatus(on bool) Command { return Command{Kind: KindLineStatus, On: on} }

func CartError(text string) Command { return Command{Kind: KindCartError, Text: text} }

func SetEmpty(empty bool) Command { return Command{Kind: KindSetEmpty, On: empty} }

// SetValidity reports a field validation message; "" clears it.
func SetValidity(line int, text string) Command {
	return Command{Kind: KindSetValidity, Line: line, Text: text}
}

// ResetInput restores a quantity input to its committed value.
func ResetInput(line int) Command { return Command{Kind: KindResetInput, Line: line} }
