package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testClassifier() *Classifier {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestClassifyCategories(t *testing.T) {
	c := testClassifier()
	old := fixedNow.Add(-time.Hour).UnixMilli()
	fresh := fixedNow.Add(-time.Minute).UnixMilli()

	tests := []struct {
		name string
		body string
		ts   int64
		want Category
	}{
		{"overdue keyword", "Your account is overdrawn by $45.20", fresh, Overdue},
		{"past due", "Reminder: your card payment is PAST DUE", fresh, Overdue},
		{"urgent payment phrasing", "URGENT - please settle the balance today", fresh, Overdue},
		{"expired otp", "Your code is 482913", old, Expired},
		{"expired otp number first", "482913 is your verification code", old, Expired},
		{"fresh otp falls through", "Your code is 482913", fresh, Other},
		{"medical pharmacy", "Your prescription is ready for pickup at the pharmacy", fresh, Medical},
		{"medical appointment", "Reminder of your dental appointment on Friday", fresh, Medical},
		{"delivery", "Your parcel is out for delivery today", fresh, Delivery},
		{"delivery carrier", "FedEx: shipment 77123 arriving tomorrow", fresh, Delivery},
		{"bill with amount", "Your electricity bill of Rs 1,240 is generated", fresh, Upcoming},
		{"bill due in days", "Card statement due in 3 days", fresh, Upcoming},
		{"bill due date", "Amount due on 12/04 for your plan", fresh, Upcoming},
		{"spam prize", "Congratulations! You are a WINNER of our lottery", fresh, Spam},
		{"spam click", "Click here now for exclusive deals", fresh, Spam},
		{"social platform", "Alex liked your photo on Instagram", fresh, Social},
		{"transaction notice", "INR 500 debited from a/c XX12 via UPI", fresh, Social},
		{"default", "See you at dinner tonight", fresh, Other},
		{"empty", "", fresh, Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.body, tt.ts))
		})
	}
}

func TestClassifyPriorityOverdueBeatsSpam(t *testing.T) {
	c := testClassifier()
	body := "URGENT: your payment is overdue. Click here to claim a free prize!"
	assert.Equal(t, Overdue, c.Classify(body, fixedNow.UnixMilli()))
}

func TestClassifyPriorityMedicalBeatsBill(t *testing.T) {
	c := testClassifier()
	body := "Pharmacy: your refill of $12.50 is due on 03/05"
	assert.Equal(t, Medical, c.Classify(body, fixedNow.UnixMilli()))
}

func TestOTPFreshnessBoundary(t *testing.T) {
	c := testClassifier()
	body := "Your code is 482913"
	threshold := fixedNow.Add(-DefaultOTPExpiry).UnixMilli()

	// One millisecond younger than the threshold: still fresh.
	assert.NotEqual(t, Expired, c.Classify(body, threshold+1))
	// Exactly at the threshold: not strictly older, still fresh.
	assert.NotEqual(t, Expired, c.Classify(body, threshold))
	// One millisecond past the threshold: expired.
	assert.Equal(t, Expired, c.Classify(body, threshold-1))
}

func TestOTPExpiryOption(t *testing.T) {
	c := New(
		WithClock(func() time.Time { return fixedNow }),
		WithOTPExpiry(5*time.Minute),
	)
	require.Equal(t, 5*time.Minute, c.OTPExpiry())
	ts := fixedNow.Add(-6 * time.Minute).UnixMilli()
	assert.Equal(t, Expired, c.Classify("OTP 1234 for login", ts))

	ignored := New(WithOTPExpiry(-time.Second))
	assert.Equal(t, DefaultOTPExpiry, ignored.OTPExpiry())
}

func TestClassifyIsTotal(t *testing.T) {
	c := testClassifier()
	inputs := []string{
		"",
		" ",
		"12345678901234567890",
		"!!!???...",
		"\x00\xff\xfe invalid utf8",
		"日本語のメッセージ",
		"<sms body=\"&quot;\"/>",
		strings.Repeat("free prize ", 20000),
		strings.Repeat("a", 1<<20),
	}
	valid := map[Category]bool{}
	for _, cat := range All() {
		valid[cat] = true
	}
	for _, in := range inputs {
		var got Category
		require.NotPanics(t, func() { got = c.Classify(in, 0) })
		assert.True(t, valid[got], "unexpected category %q", got)
	}
}

func TestParseCategory(t *testing.T) {
	got, err := ParseCategory("  SPAM ")
	require.NoError(t, err)
	assert.Equal(t, Spam, got)

	_, err = ParseCategory("bogus")
	assert.Error(t, err)
	assert.Len(t, All(), 8)
	assert.Equal(t, Other, All()[len(All())-1])
}

func TestIsUrgent(t *testing.T) {
	tests := []struct {
		body   string
		urgent bool
		reason string
	}{
		{"Your prescription is ready for pickup", true, "prescription"},
		{"Final notice: invoice 22 unpaid", true, "invoice"},
		{"Security alert on your account", true, "account"},
		{"Lunch tomorrow?", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			ok, reason := IsUrgent(tt.body)
			assert.Equal(t, tt.urgent, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "don t miss this", Canonicalize("Don't  MISS -- this!!"))
	assert.Equal(t, "", Canonicalize("...  "))
}
