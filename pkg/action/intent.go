// Package action decides the next step toward a user command by asking a
// vision model, and defines the closed set of intents it can answer with.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/gridpilot/pkg/reply"
)

// ErrMalformedIntent is returned for replies with an unknown action tag or a
// missing required field
var ErrMalformedIntent = errors.New("malformed action intent")

// Intent is one of PointerTarget, DirectInput, Complete or Fail
type Intent interface {
	isIntent()
	// Tag is the wire name of the intent
	Tag() string
}

// PointerKind is the mouse action performed at a resolved target
type PointerKind int

const (
	LeftClick PointerKind = iota
	DoubleClick
	RightClick
)

func (k PointerKind) String() string {
	switch k {
	case LeftClick:
		return "left_click"
	case DoubleClick:
		return "double_click"
	case RightClick:
		return "right_click"
	default:
		return fmt.Sprintf("pointer(%d)", int(k))
	}
}

// InputKind is a keyboard action that needs no targeting
type InputKind int

const (
	TypeText InputKind = iota
	KeyPress
)

func (k InputKind) String() string {
	switch k {
	case TypeText:
		return "type"
	case KeyPress:
		return "key"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// PointerTarget asks for a described element to be located and clicked
type PointerTarget struct {
	Description string
	Kind        PointerKind
}

// DirectInput types text or presses a key
type DirectInput struct {
	Kind    InputKind
	Payload string
}

// Complete reports that the command has been carried out
type Complete struct{}

// Fail reports that the command cannot be carried out
type Fail struct {
	Reason string
}

func (PointerTarget) isIntent() {}
func (DirectInput) isIntent()   {}
func (Complete) isIntent()      {}
func (Fail) isIntent()          {}

// Wire tags
const (
	tagLeftClick   = "MOUSE_LEFT_CLICK"
	tagDoubleClick = "MOUSE_DOUBLE_CLICK"
	tagRightClick  = "MOUSE_RIGHT_CLICK"
	tagType        = "KEYBOARD_TYPE"
	tagKey         = "KEYBOARD_BUTTON_PRESS"
	tagComplete    = "COMPLETE"
	tagError       = "ERROR"
)

func (p PointerTarget) Tag() string {
	switch p.Kind {
	case DoubleClick:
		return tagDoubleClick
	case RightClick:
		return tagRightClick
	default:
		return tagLeftClick
	}
}

func (d DirectInput) Tag() string {
	if d.Kind == KeyPress {
		return tagKey
	}
	return tagType
}

func (Complete) Tag() string { return tagComplete }
func (Fail) Tag() string     { return tagError }

// wireIntent is the JSON shape the model answers with
type wireIntent struct {
	Action reply.Text `json:"action"`
	Target reply.Text `json:"target,omitempty"`
	Text   reply.Text `json:"text,omitempty"`
	Button reply.Text `json:"button,omitempty"`
	Reason reply.Text `json:"reason,omitempty"`
	// Description is accepted in place of target, text or button
	Description reply.Text `json:"description,omitempty"`
}

// Decode parses a model reply into an Intent
func Decode(raw string) (Intent, error) {
	w, err := reply.Decode[wireIntent](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedIntent, err)
	}

	tag := strings.ToUpper(strings.TrimSpace(string(w.Action)))
	field := func(primary reply.Text, name string) (string, error) {
		v := strings.TrimSpace(string(primary))
		if v == "" {
			v = strings.TrimSpace(string(w.Description))
		}
		if v == "" {
			return "", fmt.Errorf("%w: %s requires %q", ErrMalformedIntent, tag, name)
		}
		return v, nil
	}

	switch tag {
	case tagLeftClick, tagDoubleClick, tagRightClick:
		target, err := field(w.Target, "target")
		if err != nil {
			return nil, err
		}
		kind := LeftClick
		if tag == tagDoubleClick {
			kind = DoubleClick
		} else if tag == tagRightClick {
			kind = RightClick
		}
		return PointerTarget{Description: target, Kind: kind}, nil

	case tagType:
		// text is typed verbatim, surrounding spaces included
		text := string(w.Text)
		if text == "" {
			text = string(w.Description)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: %s requires \"text\"", ErrMalformedIntent, tag)
		}
		return DirectInput{Kind: TypeText, Payload: text}, nil

	case tagKey:
		button, err := field(w.Button, "button")
		if err != nil {
			return nil, err
		}
		return DirectInput{Kind: KeyPress, Payload: button}, nil

	case tagComplete:
		return Complete{}, nil

	case tagError:
		reason, err := field(w.Reason, "reason")
		if err != nil {
			return nil, err
		}
		return Fail{Reason: reason}, nil

	case "":
		return nil, fmt.Errorf("%w: reply has no action: %s", ErrMalformedIntent, reply.Truncate(raw, 120))

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedIntent, reply.Truncate(tag, 60))
	}
}

// Encode converts an intent back to its wire form
func Encode(i Intent) map[string]string {
	out := map[string]string{"action": i.Tag()}
	switch v := i.(type) {
	case PointerTarget:
		out["target"] = v.Description
	case DirectInput:
		if v.Kind == KeyPress {
			out["button"] = v.Payload
		} else {
			out["text"] = v.Payload
		}
	case Fail:
		out["reason"] = v.Reason
	case Complete:
	}
	return out
}

// MarshalIntent renders an intent as compact wire JSON
func MarshalIntent(i Intent) string {
	b, err := json.Marshal(Encode(i))
	if err != nil {
		return i.Tag()
	}
	return string(b)
}
