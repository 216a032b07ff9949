package sms

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned when no grammar matches the raw text.
var ErrUnsupportedFormat = errors.New("unsupported sms format")

// Parsed is the normalized form of a bank deposit notification. Time is
// always UTC regardless of the bank's reporting timezone.
type Parsed struct {
	Amount    int64
	PayerName string
	Time      time.Time
	Bank      string
}

var kst = time.FixedZone("KST", 9*60*60)

// grammar is one bank's notification template. Each regexp captures, in
// order: MM/DD, HH:MM, amount, payer name. loc is the timezone the bank
// reports in; parsed times are converted to UTC.
type grammar struct {
	bank string
	re   *regexp.Regexp
	loc  *time.Location
}

// Grammar precedence: structured multiline formats first, the generic
// single-line fallback last. First full match wins.
var grammars = []grammar{
	{
		// [Web발신]
		// 우리 07/21 02:27
		// *420576
		// 입금 1000원
		// 주노9013
		bank: "woori",
		re:   regexp.MustCompile(`\[Web발신\]\s*\n우리\s+(\d{2}/\d{2})\s+(\d{2}:\d{2})\s*\n\*\d+\s*\n입금\s+(\d+)원\s*\n(.+)`),
		loc:  kst,
	},
	{
		// 07/18 16:50 *420576 입금 8원 떼껄룩스
		bank: "generic",
		re:   regexp.MustCompile(`(\d{2}/\d{2})\s+(\d{2}:\d{2})\s+\*?\d+\s+입금\s+(\d+)원\s+(.+)`),
		loc:  time.UTC,
	},
}

// Parser turns raw notification text into a Parsed transaction. The clock
// is injected because the templates omit the year.
type Parser struct {
	now func() time.Time
}

func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Parse tries each grammar in precedence order and returns the first full
// match, normalized to UTC.
func (p *Parser) Parse(raw string) (*Parsed, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty message", ErrUnsupportedFormat)
	}
	for _, g := range grammars {
		m := g.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		amount, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("%w: bad amount %q", ErrUnsupportedFormat, m[3])
		}
		ts, err := p.parseTimestamp(m[1], m[2], g.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		name := strings.TrimSpace(m[4])
		if name == "" {
			return nil, fmt.Errorf("%w: empty payer name", ErrUnsupportedFormat)
		}
		return &Parsed{Amount: amount, PayerName: name, Time: ts, Bank: g.bank}, nil
	}
	return nil, ErrUnsupportedFormat
}

// parseTimestamp resolves "MM/DD" + "HH:MM" against the current year in the
// bank's timezone, then converts to UTC.
func (p *Parser) parseTimestamp(datePart, timePart string, loc *time.Location) (time.Time, error) {
	ts, err := time.ParseInLocation("2006 01/02 15:04",
		fmt.Sprintf("%d %s %s", p.now().Year(), datePart, timePart), loc)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
