// Package bills derives payment reminders from messages labelled upcoming.
package bills

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/ahocorasick"

	"github.com/matheus3301/textile/internal/classify"
)

// Info is what can be read from one bill message.
type Info struct {
	Amount  float64
	DueDate int64 // epoch milliseconds, zero when absent
	Type    string
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:rs\.?|inr|₹)\s*(\d+(?:,\d+)*(?:\.\d+)?)`),
	regexp.MustCompile(`\$\s*(\d+(?:,\d+)*(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)(?:amount|total|due).*?(\d+(?:,\d+)*(?:\.\d+)?)`),
}

var duePattern = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)

// Amount returns the first currency amount in body, or 0.
func Amount(body string) float64 {
	for _, p := range amountPatterns {
		m := p.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil {
			return v
		}
	}
	return 0
}

// DueDate reads a day/month/year date from body, interpreted in loc. Two
// digit years are in the 2000s.
func DueDate(body string, loc *time.Location) (time.Time, bool) {
	m := duePattern.FindStringSubmatch(body)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), true
}

type billType struct {
	name  string
	words []string
}

// Checked in order; the first type with a matching word wins.
var billTypes = []billType{
	{"electricity", []string{"electricity", "power", "energy"}},
	{"water", []string{"water", "municipal"}},
	{"gas", []string{"gas", "lpg"}},
	{"internet", []string{"internet", "broadband", "wifi"}},
	{"mobile", []string{"mobile", "phone", "airtel", "jio", "vodafone"}},
	{"credit", []string{"credit card", "card payment"}},
	{"loan", []string{"loan", "emi"}},
	{"insurance", []string{"insurance", "policy"}},
}

var (
	typeMatcher *ahocorasick.Automaton
	typeOf      []int // pattern id -> index into billTypes
)

func init() {
	var patterns []string
	for i, bt := range billTypes {
		for _, w := range bt.words {
			patterns = append(patterns, string(classify.Haystack(w)))
			typeOf = append(typeOf, i)
		}
	}
	ac, err := ahocorasick.NewBuilder().AddStrings(patterns).Build()
	if err != nil {
		panic("bills: build type matcher: " + err.Error())
	}
	typeMatcher = ac
}

// Type classifies a bill by keywords in its body and sender. It returns
// "other" when nothing matches.
func Type(body, sender string) string {
	hay := classify.Haystack(body + " " + sender)
	best := len(billTypes)
	for _, m := range typeMatcher.FindAllOverlapping(hay) {
		if t := typeOf[m.PatternID]; t < best {
			best = t
		}
	}
	if best == len(billTypes) {
		return "other"
	}
	return billTypes[best].name
}

// Extract reads amount, due date and type from a message. When no due date
// is present the message time stands in.
func Extract(body, sender string, sent int64, loc *time.Location) Info {
	info := Info{
		Amount:  Amount(body),
		DueDate: sent,
		Type:    Type(body, sender),
	}
	if due, ok := DueDate(body, loc); ok {
		info.DueDate = due.UnixMilli()
	}
	return info
}
