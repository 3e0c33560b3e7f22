package intent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"
)

// Doc type tokens, longest first so 書函 is not shadowed by 函.
var docTypePattern = regexp.MustCompile(`開會通知單|會勘通知單|書函|公告|簽呈|函`)

// agencyAliases expands the short agency names people actually type into
// the full registered names stored on documents.
var agencyAliases = map[string]string{
	"工務局": "桃園市政府工務局",
	"水務局": "桃園市政府水務局",
	"地政局": "桃園市政府地政局",
	"都發局": "桃園市政府都市發展局",
	"養工處": "桃園市政府養護工程處",
	"地政事務所": "桃園市桃園地政事務所",
}

// fullAgencyPattern catches fully spelled-out agency names.
var fullAgencyPattern = regexp.MustCompile(`[\p{Han}]{2,3}(?:市|縣)政府[\p{Han}]{2,6}(?:局|處|隊)`)

var statusTokens = []string{"已結案", "辦理中", "待處理", "已歸檔"}

// rocDatePattern matches ROC-calendar dates like 114年3月 or 114年3月5日.
var rocDatePattern = regexp.MustCompile(`(\d{2,4})年(\d{1,2})月(?:(\d{1,2})日)?`)

// stopwords removed before keyword extraction. Question particles and the
// query verbs that carry no retrieval signal.
var keywordStopwords = []string{
	"請問", "查詢", "查一下", "找一下", "搜尋", "列出", "顯示",
	"有哪些", "有沒有", "哪些", "什麼", "相關", "的", "了", "呢", "嗎",
	"紀錄", "資料", "文件",
}

// RuleEngine extracts intent fields from a question using fixed patterns.
// It is deterministic and cheap; the layered parser runs it first.
type RuleEngine struct {
	log   *slog.Logger
	clock clockwork.Clock
}

// NewRuleEngine creates a rule engine. The clock anchors relative date
// phrases like 上個月.
func NewRuleEngine(log *slog.Logger, clock clockwork.Clock) *RuleEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RuleEngine{log: log, clock: clock}
}

// Match extracts fields from the question and returns the intent with a
// confidence score in [0, 1]. Zero fields extracted means zero confidence.
func (e *RuleEngine) Match(question string) (Intent, float64) {
	var it Intent
	remainder := question

	// Dispatch orders are routed separately from official documents.
	if strings.Contains(question, "派工單") {
		it.RelatedEntity = "dispatch_order"
		remainder = strings.ReplaceAll(remainder, "派工單", " ")
	}

	if m := docTypePattern.FindString(remainder); m != "" {
		it.DocType = m
		remainder = strings.Replace(remainder, m, " ", 1)
	}

	agency, role, rest := e.matchAgency(remainder)
	if agency != "" {
		if role == "receiver" {
			it.Receiver = agency
		} else {
			it.Sender = agency
		}
		remainder = rest
	}

	for _, status := range statusTokens {
		if strings.Contains(remainder, status) {
			it.Status = status
			remainder = strings.Replace(remainder, status, " ", 1)
			break
		}
	}

	if from, to, rest, ok := e.matchDateRange(remainder); ok {
		it.DateFrom = from
		it.DateTo = to
		remainder = rest
	}

	it.Keywords = extractKeywords(remainder)

	conf := confidence(it)
	if e.log != nil && conf > 0 {
		e.log.Debug("rule engine matched", "fields", it.FieldCount(), "confidence", conf)
	}
	return it, conf
}

// matchAgency finds an agency mention and decides whether it is the sender
// or the receiver from the surrounding particles.
func (e *RuleEngine) matchAgency(s string) (agency, role, rest string) {
	name := ""
	short := ""
	bestIdx := len(s)
	for alias, full := range agencyAliases {
		idx := strings.Index(s, alias)
		if idx < 0 {
			continue
		}
		// Earliest match wins; on a tie prefer the longer alias.
		if idx < bestIdx || (idx == bestIdx && len(alias) > len(short)) {
			name, short, bestIdx = full, alias, idx
		}
	}
	if m := fullAgencyPattern.FindString(s); m != "" {
		name = m
		short = m
	}
	if name == "" {
		return "", "", s
	}

	idx := strings.Index(s, short)
	before := s[:idx]
	after := s[idx+len(short):]

	role = "sender"
	for _, cue := range []string{"給", "發給", "致", "發送給"} {
		if strings.HasSuffix(strings.TrimSpace(before), cue) {
			role = "receiver"
			before = strings.TrimSuffix(strings.TrimSpace(before), cue)
			break
		}
	}
	// Strip the direction verbs trailing the agency so they do not leak
	// into keywords.
	for _, cue := range []string{"發的", "發出的", "發出", "發文", "寄來的", "來的", "來函", "發"} {
		if strings.HasPrefix(after, cue) {
			after = after[len(cue):]
			break
		}
	}

	return name, role, before + " " + after
}

// matchDateRange resolves relative and explicit date phrases into an
// inclusive [from, to] range formatted as 2006-01-02.
func (e *RuleEngine) matchDateRange(s string) (from, to, rest string, ok bool) {
	now := e.clock.Now()

	relatives := []struct {
		token    string
		from, to time.Time
	}{
		{"上個月", monthStart(now.AddDate(0, -1, 0)), monthEnd(now.AddDate(0, -1, 0))},
		{"上個禮拜", weekStart(now).AddDate(0, 0, -7), weekStart(now).AddDate(0, 0, -1)},
		{"上週", weekStart(now).AddDate(0, 0, -7), weekStart(now).AddDate(0, 0, -1)},
		{"這個月", monthStart(now), monthEnd(now)},
		{"本月", monthStart(now), monthEnd(now)},
		{"本週", weekStart(now), weekStart(now).AddDate(0, 0, 6)},
		{"今年", yearStart(now), yearEnd(now)},
		{"去年", yearStart(now.AddDate(-1, 0, 0)), yearEnd(now.AddDate(-1, 0, 0))},
		{"昨天", now.AddDate(0, 0, -1), now.AddDate(0, 0, -1)},
		{"今天", now, now},
	}
	for _, rel := range relatives {
		if strings.Contains(s, rel.token) {
			return rel.from.Format("2006-01-02"), rel.to.Format("2006-01-02"),
				strings.Replace(s, rel.token, " ", 1), true
		}
	}

	if m := rocDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year < 1911 {
			year += 1911 // ROC calendar
		}
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			rest = strings.Replace(s, m[0], " ", 1)
			if m[3] != "" {
				day, _ := strconv.Atoi(m[3])
				d := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
				return d, d, rest, true
			}
			first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, now.Location())
			return first.Format("2006-01-02"), monthEnd(first).Format("2006-01-02"), rest, true
		}
	}

	return "", "", s, false
}

// extractKeywords splits the leftover text into CJK terms after removing
// stopwords, capped at 5.
func extractKeywords(s string) []string {
	for _, sw := range keywordStopwords {
		s = strings.ReplaceAll(s, sw, " ")
	}

	var keywords []string
	var run []rune
	flush := func() {
		if len(run) >= 2 && len(run) <= 8 {
			kw := string(run)
			if !containsString(keywords, kw) {
				keywords = append(keywords, kw)
			}
		}
		run = run[:0]
	}
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords
}

// confidence scales with how many distinct fields matched. One solid field
// clears the rule-only threshold; four or more approaches certainty.
func confidence(it Intent) float64 {
	n := it.FieldCount()
	if n == 0 {
		return 0
	}
	c := 0.35 + 0.15*float64(n)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func monthEnd(t time.Time) time.Time {
	return monthStart(t).AddDate(0, 1, -1)
}

func weekStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // weeks start on Monday
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, -(weekday - 1))
}

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

func yearEnd(t time.Time) time.Time {
	return time.Date(t.Year(), 12, 31, 0, 0, 0, 0, t.Location())
}
