package store

// Message is one stored, classified SMS.
type Message struct {
	ID       int64
	Sender   string
	Body     string
	Time     int64 // epoch milliseconds
	ThreadID string
	Category string
	Notified bool
}

// Filter narrows ListMessages. Zero fields are ignored.
type Filter struct {
	Category string
	Since    int64
	Until    int64
	Limit    int
	Offset   int
}

// Bill is a payment reminder derived from a stored message.
type Bill struct {
	ID       int64
	SMSID    int64
	Sender   string
	Amount   float64
	DueDate  int64
	BillType string
	Status   string // unpaid, paid
	PaidDate int64
	Notes    string
}

// Action is one entry of the purge/audit history.
type Action struct {
	ID            int64
	Type          string
	ItemsAffected int64
	Timestamp     int64
	Details       string
}

// SenderCount pairs a sender with its message count.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int64  `json:"count"`
}

// Summary aggregates the whole store.
type Summary struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	TopSenders []SenderCount    `json:"top_senders"`
	Latest     int64            `json:"latest"`
	Unpaid     int64            `json:"unpaid_bills"`
}

// Insights holds the actionable counts shown by stats.
type Insights struct {
	Total            int64 `json:"total"`
	BillsDueThisWeek int64 `json:"bills_due_this_week"`
	ExpiredOTPs      int64 `json:"expired_otps"`
	SpamToday        int64 `json:"spam_today"`
}
