// Package classify assigns one category to an SMS body.
//
// Rules are evaluated in a fixed priority order and the first match wins, so
// a message that mentions both an overdue payment and a prize is reported as
// overdue. Classification never fails: every body, including the empty
// string, maps to exactly one Category.
package classify

import (
	"regexp"
	"time"
)

// DefaultOTPExpiry is how old a one-time code must be before it counts as
// expired. Earlier releases used 5 minutes; 10 minutes is the current value.
const DefaultOTPExpiry = 10 * time.Minute

var (
	otpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\b\d{4,8}\b.{0,40}\b(?:otp|code|passcode|verification|verify|authenticate)`),
		regexp.MustCompile(`(?is)\b(?:otp|code|passcode|verification|verify|authenticate)\b.{0,40}\b\d{4,8}\b`),
	}

	overduePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\burgent\b.{0,40}\b(?:payment|pay|balance)\b`),
		regexp.MustCompile(`(?is)\bpayment\b.{0,40}\b(?:overdue|late|missed|failed|declined|bounced)\b`),
	}

	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:rs\.?|inr|usd|eur|gbp)\s?\d[\d,]*(?:\.\d{1,2})?`),
		regexp.MustCompile(`[$₹€£]\s?\d[\d,]*(?:\.\d{1,2})?`),
		regexp.MustCompile(`(?i)\d[\d,]*(?:\.\d{1,2})?\s?(?:usd|inr|eur|gbp|rs)\b`),
	}

	duePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\bdue\b.{0,30}\b(?:date|on|by)\b.{0,20}\d{1,2}[/-]\d{1,2}`),
		regexp.MustCompile(`(?i)\bdue\s+in\s+\d+\s+days?\b`),
		regexp.MustCompile(`(?i)\bdue\s+(?:today|tomorrow)\b`),
		regexp.MustCompile(`(?is)\b(?:electricity|water|gas|internet|broadband|mobile|credit card)\b.{0,30}\b(?:bill|payment)\b`),
		regexp.MustCompile(`(?is)\b(?:reminder|alert)\b.{0,30}\b(?:payment|bill)\b`),
	}

	clickbaitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\bclick\b.{0,20}\b(?:here|link|now|below)\b`),
	}
)

// Classifier holds the clock and expiry window used for OTP detection.
type Classifier struct {
	now       func() time.Time
	otpExpiry time.Duration
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock overrides the time source used to compute message age.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithOTPExpiry overrides DefaultOTPExpiry. Non-positive values are ignored.
func WithOTPExpiry(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.otpExpiry = d
		}
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{now: time.Now, otpExpiry: DefaultOTPExpiry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var std = New()

// Classify labels body using the wall clock and the default OTP expiry.
func Classify(body string, timestamp int64) Category {
	return std.Classify(body, timestamp)
}

// Classify labels body. timestamp is the message time in epoch milliseconds.
func (c *Classifier) Classify(body string, timestamp int64) Category {
	hay := Haystack(body)

	switch {
	case overdueWords.contains(hay) || anyMatch(overduePatterns, body):
		return Overdue
	case c.expired(timestamp) && anyMatch(otpPatterns, body):
		return Expired
	case medicalWords.contains(hay):
		return Medical
	case deliveryWords.contains(hay):
		return Delivery
	case isBill(hay, body):
		return Upcoming
	case spamWords.contains(hay) || anyMatch(clickbaitPatterns, body):
		return Spam
	case socialWords.contains(hay):
		return Social
	default:
		return Other
	}
}

// OTPExpiry returns the configured expiry window.
func (c *Classifier) OTPExpiry() time.Duration { return c.otpExpiry }

// expired reports whether a message sent at timestamp is strictly older
// than the expiry window.
func (c *Classifier) expired(timestamp int64) bool {
	age := c.now().UnixMilli() - timestamp
	return age > c.otpExpiry.Milliseconds()
}

// IsUrgent reports whether body contains an urgent keyword and which one.
func IsUrgent(body string) (bool, string) {
	kw, ok := urgentWords.match(Haystack(body))
	return ok, kw
}

func isBill(hay []byte, body string) bool {
	if anyMatch(duePatterns, body) {
		return true
	}
	return billWords.contains(hay) && anyMatch(amountPatterns, body)
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
