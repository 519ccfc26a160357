package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// configSetter applies values from a lower-precedence source. A value is
// skipped when the flag of the same name was set on the command line.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setList sets a comma separated list if not empty and flag not changed.
func (s *configSetter) setList(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	if list := SplitList(value); len(list) > 0 {
		*dst = list
	}
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int where zero is meaningful, so presence is a pointer.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setUnits sets a duration given as a count of unit, the way the native
// config expresses timers.
func (s *configSetter) setUnits(flag string, value int64, unit time.Duration, dst *time.Duration) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = time.Duration(value) * unit
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a positive int from an environment string.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setInt64FromString parses a positive int64 from an environment string.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setNonNegIntFromString parses an int where zero is a valid setting.
func (s *configSetter) setNonNegIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return fmt.Errorf("parse %s: negative value %d", flag, i)
	}
	*dst = i
	return nil
}

// setUnitsFromString accepts either a bare count of unit ("3000") or a
// Go duration ("3s").
func (s *configSetter) setUnitsFromString(flag, value string, unit time.Duration, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 0 {
			*dst = time.Duration(n) * unit
		}
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if d > 0 {
		*dst = d
	}
	return nil
}

// setBoolFromString parses a bool from an environment string.
// Accepts "true", "1", "yes" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		*dst = true
	default:
		*dst = false
	}
}
