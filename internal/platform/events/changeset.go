// Package events describes which views a mutation invalidated. Write
// operations return a ChangeSet; the caller decides how to refresh.
package events

import "strings"

// Topic names a group of views that must be refreshed after a change.
type Topic string

const (
	TopicPatients Topic = "patients"
	TopicVisits   Topic = "visits"
	TopicStudies  Topic = "studies"
	TopicCenters  Topic = "centers"
)

var topicOrder = []Topic{TopicPatients, TopicVisits, TopicStudies, TopicCenters}

// ChangeSet is an immutable set of topics.
type ChangeSet struct {
	bits uint8
}

// NewChangeSet returns a set holding topics.
func NewChangeSet(topics ...Topic) ChangeSet {
	return ChangeSet{}.Add(topics...)
}

// Add returns a copy of c with topics added. Unknown topics are ignored.
func (c ChangeSet) Add(topics ...Topic) ChangeSet {
	for _, t := range topics {
		c.bits |= bit(t)
	}
	return c
}

// Merge returns the union of c and o.
func (c ChangeSet) Merge(o ChangeSet) ChangeSet {
	return ChangeSet{bits: c.bits | o.bits}
}

// Has reports whether t is in the set.
func (c ChangeSet) Has(t Topic) bool {
	b := bit(t)
	return b != 0 && c.bits&b != 0
}

// Empty reports whether no topic is set.
func (c ChangeSet) Empty() bool { return c.bits == 0 }

// Topics returns the topics in a fixed order.
func (c ChangeSet) Topics() []Topic {
	var out []Topic
	for _, t := range topicOrder {
		if c.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (c ChangeSet) String() string {
	topics := c.Topics()
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func bit(t Topic) uint8 {
	for i, known := range topicOrder {
		if known == t {
			return 1 << uint(i)
		}
	}
	return 0
}
