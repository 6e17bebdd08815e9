package libsimconnect_types

import (
	"strconv"
	"strings"
)

var inputModifiers = map[string]struct{}{
	"shift": {},
	"ctrl":  {},
	"alt":   {},
	"tab":   {},
}

var inputNamedKeys = map[string]struct{}{
	"space": {}, "enter": {}, "esc": {}, "backspace": {}, "delete": {}, "insert": {},
	"home": {}, "end": {}, "pageup": {}, "pagedown": {},
	"up": {}, "down": {}, "left": {}, "right": {},
	"numpad0": {}, "numpad1": {}, "numpad2": {}, "numpad3": {}, "numpad4": {},
	"numpad5": {}, "numpad6": {}, "numpad7": {}, "numpad8": {}, "numpad9": {},
	"add": {}, "subtract": {}, "multiply": {}, "divide": {}, "decimal": {},
}

var joystickAxes = map[string]struct{}{
	"xaxis": {}, "yaxis": {}, "zaxis": {},
	"rxaxis": {}, "ryaxis": {}, "rzaxis": {},
	"slider": {}, "pov": {},
}

// IsValidInputSpec reports whether s is a key chord ("shift+ctrl+a", "VK_F1", "space")
// or a joystick control ("joystick:0:button:3", "joystick:1:xaxis").
func IsValidInputSpec(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}

	ls := strings.ToLower(s)
	if strings.HasPrefix(ls, "joystick:") {
		return isValidJoystickSpec(ls)
	}

	parts := strings.Split(ls, "+")
	for i, p := range parts {
		if p == "" {
			return false
		}
		if i < len(parts)-1 {
			if _, ok := inputModifiers[p]; !ok {
				return false
			}
			continue
		}
		if !isValidKeyName(p) {
			return false
		}
	}
	return true
}

func isValidKeyName(k string) bool {
	if len(k) == 1 {
		c := k[0]
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	if _, ok := inputNamedKeys[k]; ok {
		return true
	}
	if strings.HasPrefix(k, "vk_") && len(k) > 3 {
		for _, c := range k[3:] {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
				return false
			}
		}
		return true
	}
	if k[0] == 'f' {
		n, err := strconv.Atoi(k[1:])
		return err == nil && n >= 1 && n <= 24
	}
	return false
}

func isValidJoystickSpec(ls string) bool {
	fields := strings.Split(ls, ":")
	if len(fields) < 3 {
		return false
	}
	if _, err := strconv.ParseUint(fields[1], 10, 8); err != nil {
		return false
	}

	switch fields[2] {
	case "button":
		if len(fields) != 4 {
			return false
		}
		_, err := strconv.ParseUint(fields[3], 10, 8)
		return err == nil
	default:
		if len(fields) != 3 {
			return false
		}
		_, ok := joystickAxes[fields[2]]
		return ok
	}
}

// SystemEventKind is the notification shape a system event is delivered with.
type SystemEventKind int32

const (
	SystemEventKindPlain SystemEventKind = iota
	SystemEventKindFilename
	SystemEventKindFrame
)

var systemEvents = map[string]SystemEventKind{
	"1sec":                  SystemEventKindPlain,
	"4sec":                  SystemEventKindPlain,
	"6hz":                   SystemEventKindPlain,
	"aircraftloaded":        SystemEventKindFilename,
	"crashed":               SystemEventKindPlain,
	"crashreset":            SystemEventKindPlain,
	"flightloaded":          SystemEventKindFilename,
	"flightsaved":           SystemEventKindFilename,
	"flightplanactivated":   SystemEventKindFilename,
	"flightplandeactivated": SystemEventKindPlain,
	"frame":                 SystemEventKindFrame,
	"pause":                 SystemEventKindPlain,
	"paused":                SystemEventKindPlain,
	"pauseframe":            SystemEventKindFrame,
	"positionchanged":       SystemEventKindPlain,
	"sim":                   SystemEventKindPlain,
	"simstart":              SystemEventKindPlain,
	"simstop":               SystemEventKindPlain,
	"sound":                 SystemEventKindPlain,
	"unpaused":              SystemEventKindPlain,
	"view":                  SystemEventKindPlain,
}

// LookupSystemEvent reports whether name is a system event, case-insensitive.
func LookupSystemEvent(name string) (SystemEventKind, bool) {
	k, ok := systemEvents[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}
