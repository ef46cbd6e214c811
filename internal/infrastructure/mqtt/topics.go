package mqtt

import (
	"fmt"
	"strings"
)

// ValidatePublishTopic checks that a topic can be published to.
// Publish topics must be non-empty and free of the + and # wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateSubscribeTopic checks a subscription filter.
//
// + must occupy a whole level, # must occupy the whole last level.
//
// Example valid filters:
//
//	stat/sonoff/POWER
//	stat/+/RESULT
//	tele/#
func ValidateSubscribeTopic(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: # must be the whole last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: + must be a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// TopicMatches reports whether topic matches a subscription filter.
//
//	TopicMatches("stat/+/POWER", "stat/desk/POWER") // true
//	TopicMatches("tele/#", "tele/desk/STATE")       // true
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
