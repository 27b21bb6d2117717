package classify

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
)

// keywordSet matches whole words and phrases against canonical text.
// Patterns and haystacks are both padded with spaces so a pattern can only
// start and end on a word boundary.
type keywordSet struct {
	words []string
	ac    *ahocorasick.Automaton
}

func mustKeywords(words ...string) *keywordSet {
	patterns := make([]string, len(words))
	for i, w := range words {
		patterns[i] = string(Haystack(w))
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetPrefilter(true).
		Build()
	if err != nil {
		panic("classify: build keyword automaton: " + err.Error())
	}
	return &keywordSet{words: words, ac: ac}
}

// match reports the keyword with the lowest list index present in haystack.
func (k *keywordSet) match(haystack []byte) (string, bool) {
	best := -1
	for _, m := range k.ac.FindAllOverlapping(haystack) {
		if m.PatternID < 0 || m.PatternID >= len(k.words) {
			continue
		}
		if best == -1 || m.PatternID < best {
			best = m.PatternID
		}
	}
	if best == -1 {
		return "", false
	}
	return k.words[best], true
}

func (k *keywordSet) contains(haystack []byte) bool {
	_, ok := k.match(haystack)
	return ok
}

// Canonicalize lowercases s and collapses every run of non letter/digit
// runes into a single space.
func Canonicalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Haystack returns the padded canonical form used for keyword scanning.
// Patterns must be padded the same way to match on word boundaries.
func Haystack(body string) []byte {
	return []byte(" " + Canonicalize(body) + " ")
}

var (
	overdueWords = mustKeywords(
		"overdue", "past due", "overdrawn", "final notice", "late fee", "late payment",
		"missed payment", "payment failed", "payment declined", "insufficient funds",
		"negative balance", "collection agency", "pay immediately", "urgent payment",
		"account suspended", "disconnection notice",
	)
	medicalWords = mustKeywords(
		"pharmacy", "pharmacist", "prescription", "prescriptions", "rx", "refill", "refills",
		"ready for pickup", "appointment", "appt", "doctor", "clinic", "hospital",
		"lab result", "lab results", "test result", "test results", "dental", "dentist",
		"vaccine", "vaccination", "medication", "patient",
	)
	deliveryWords = mustKeywords(
		"out for delivery", "delivered", "delivery", "shipped", "shipment", "tracking",
		"track your", "package", "parcel", "courier", "ups", "fedex", "usps", "dhl",
		"estimated arrival", "dispatched", "in transit",
	)
	billWords = mustKeywords(
		"bill", "billing", "payment", "pay", "due", "invoice", "statement", "balance",
		"amount due", "minimum due", "autopay", "auto pay", "emi", "premium",
		"installment", "renewal",
	)
	spamWords = mustKeywords(
		"win", "won", "winner", "congratulations", "claim", "prize", "reward", "free",
		"offer", "discount", "lottery", "jackpot", "cash prize", "limited time", "hurry",
		"act now", "don't miss", "last chance", "unsubscribe", "opt out", "reply stop",
		"viagra", "casino", "loan", "gift card",
	)
	socialWords = mustKeywords(
		"facebook", "twitter", "instagram", "whatsapp", "telegram", "linkedin", "snapchat",
		"tiktok", "liked", "commented", "shared", "mentioned", "tagged", "friend request",
		"follow", "follower", "followers", "debited", "credited", "transaction", "txn",
		"purchase", "purchased", "spent", "withdrawn", "withdrawal", "deposited",
		"transferred", "refund", "refunded",
	)
	// urgentWords keeps the alert scanner's list order; earlier entries win.
	urgentWords = mustKeywords(
		"urgent", "due", "overdue", "past due", "payment due",
		"prescription", "pharmacy", "ready for pickup",
		"bill", "invoice", "balance", "payment",
		"account", "suspended", "expired", "expiring",
		"reminder", "final notice", "action required",
		"verify", "confirm", "security alert",
	)
)
