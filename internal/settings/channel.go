package settings

import (
	"errors"
	"fmt"
)

// Wildcard is the mandatory fallback key of every ChannelSetting.
const Wildcard = "*"

// ErrMissingWildcard is returned when a ChannelSetting lacks its "*" entry.
var ErrMissingWildcard = errors.New(`missing "*" entry`)

// ChannelSetting maps channel names to a value with a "*" fallback.
type ChannelSetting[T any] map[string]T

// Get returns the value for channel, or the wildcard value when channel has no entry.
func (s ChannelSetting[T]) Get(channel string) T {
	if v, ok := s[channel]; ok {
		return v
	}
	return s[Wildcard]
}

func (s ChannelSetting[T]) validate(key string) error {
	if _, ok := s[Wildcard]; !ok {
		return fmt.Errorf("%s: %w", key, ErrMissingWildcard)
	}
	return nil
}
