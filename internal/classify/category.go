package classify

import (
	"fmt"
	"strings"
)

// Category is the label assigned to every imported message.
type Category string

const (
	Overdue  Category = "overdue"
	Expired  Category = "expired"
	Medical  Category = "medical"
	Delivery Category = "delivery"
	Upcoming Category = "upcoming"
	Spam     Category = "spam"
	Social   Category = "social"
	Other    Category = "other"
)

// priority is the evaluation order; the first matching rule wins.
var priority = []Category{Overdue, Expired, Medical, Delivery, Upcoming, Spam, Social, Other}

// All returns the closed category set in priority order.
func All() []Category {
	out := make([]Category, len(priority))
	copy(out, priority)
	return out
}

// ParseCategory resolves a user-supplied label (case-insensitive).
func ParseCategory(s string) (Category, error) {
	want := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range priority {
		if c == want {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }
