// Package backup reads and writes the flat-attribute SMS backup format: one
// self-closing <sms .../> tag per message inside a loose <smses> wrapper.
//
// Two read modes are offered. ExtractFragments isolates raw tags by pattern
// matching and defers attribute parsing, which keeps large inputs cheap to
// partition. Parse decodes the whole document into records in one pass.
package backup

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedFragment is returned when a single tag cannot be decoded.
var ErrMalformedFragment = errors.New("malformed sms fragment")

// Fragment is one raw, still unparsed <sms .../> tag.
type Fragment string

// Record holds the normalized attributes of one message.
type Record struct {
	Sender   string
	Body     string
	Date     int64 // epoch milliseconds
	ThreadID string
}

// ParseResult is the outcome of a full Parse.
type ParseResult struct {
	Records []Record
	Failed  int
}

// fragmentPattern matches a self-closing <sms .../> tag or an empty
// <sms ...></sms> pair. Quoted attribute values are skipped as a whole, so a
// raw '>' inside a body does not end the tag.
var fragmentPattern = regexp.MustCompile(`<sms\b(?:[^>"']|"[^"]*"|'[^']*')*(?:/>|>[^<]*</sms\s*>)`)

// ExtractFragments returns every sms element in raw, in document order. It
// accepts the same elements as Parse.
func ExtractFragments(raw string) []Fragment {
	matches := fragmentPattern.FindAllString(raw, -1)
	frags := make([]Fragment, len(matches))
	for i, m := range matches {
		frags[i] = Fragment(m)
	}
	return frags
}

type smsTag struct {
	XMLName  xml.Name `xml:"sms"`
	Address  string   `xml:"address,attr"`
	Body     string   `xml:"body,attr"`
	Date     string   `xml:"date,attr"`
	ThreadID string   `xml:"thread_id,attr"`
}

// ParseFragment decodes the attributes of a single tag. Missing attributes
// default to empty strings; a missing or non-numeric date becomes now.
func ParseFragment(f Fragment, now time.Time) (Record, error) {
	var tag smsTag
	if err := xml.Unmarshal([]byte(f), &tag); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedFragment, err)
	}
	return tag.record(now), nil
}

func (t smsTag) record(now time.Time) Record {
	return Record{
		Sender:   t.Address,
		Body:     t.Body,
		Date:     parseDate(t.Date, now),
		ThreadID: strings.TrimSpace(t.ThreadID),
	}
}

func parseDate(s string, now time.Time) int64 {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return now.UnixMilli()
	}
	return ms
}

// Parse decodes every message in raw. The document wrapper does not need to
// be well formed: when the decoder gives up, parsing restarts tag by tag and
// each undecodable tag is counted in Failed instead of aborting the run.
func Parse(raw string, now time.Time) *ParseResult {
	if res, err := decodeDocument(raw, now); err == nil {
		return res
	}
	return parseFragments(ExtractFragments(raw), now)
}

func decodeDocument(raw string, now time.Time) (*ParseResult, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	res := &ParseResult{}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sms" {
			continue
		}
		res.Records = append(res.Records, tagFromAttrs(start.Attr).record(now))
	}
}

func tagFromAttrs(attrs []xml.Attr) smsTag {
	var t smsTag
	for _, a := range attrs {
		switch a.Name.Local {
		case "address":
			t.Address = a.Value
		case "body":
			t.Body = a.Value
		case "date":
			t.Date = a.Value
		case "thread_id":
			t.ThreadID = a.Value
		}
	}
	return t
}

func parseFragments(frags []Fragment, now time.Time) *ParseResult {
	res := &ParseResult{Records: make([]Record, 0, len(frags))}
	for _, f := range frags {
		rec, err := ParseFragment(f, now)
		if err != nil {
			res.Failed++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

const prologue = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

// Write emits a complete backup document around frags. Fragments are copied
// byte for byte, one per line.
func Write(w io.Writer, frags []Fragment) error {
	if _, err := fmt.Fprintf(w, "%s<smses count=\"%d\">\n", prologue, len(frags)); err != nil {
		return err
	}
	for _, f := range frags {
		if _, err := io.WriteString(w, string(f)+"\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</smses>\n")
	return err
}
