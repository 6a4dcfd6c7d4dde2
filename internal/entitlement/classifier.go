package entitlement

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/chatgate/internal/model"
)

// 受け付けるプランの月数
const (
	QuarterlyMonths  = 3
	HalfYearlyMonths = 6
)

// dayTolerance は日数から月数を推定するときの許容幅（日）。
const dayTolerance = 10

// Classifier はレコードからプランの月数を判定する純粋関数。
// 判定できない場合は ok=false（意見なし）を返し、次の分類器に委ねる。
type Classifier struct {
	Name     string
	Classify func(rec *model.PaymentRecord) (months int, ok bool)
}

// Heuristics は金額がない（または0の）レコードに適用する分類器を優先順に返す。
//
//  1. プラン名のキーワード（quarterly, 6 months, semi-annual など）
//  2. プラン名に含まれる日数（90 days, 180-day など）
//  3. 開始日と終了日の差
func Heuristics() []Classifier {
	return []Classifier{
		{Name: "label_keyword", Classify: classifyByKeyword},
		{Name: "label_days", Classify: classifyByLabelDays},
		{Name: "date_span", Classify: classifyByDateSpan},
	}
}

// PlanClassifier は金額テーブルとヒューリスティクスでプランの月数を決める。
type PlanClassifier struct {
	amounts    map[int64]int
	heuristics []Classifier
}

// NewPlanClassifier はPlanClassifierを生成する。
func NewPlanClassifier(amounts map[int64]int) *PlanClassifier {
	return &PlanClassifier{amounts: amounts, heuristics: Heuristics()}
}

// Classify はプランの月数と、判定に使った分類器の名前を返す。
// 金額がある場合は金額テーブルだけで決め、テーブルにない金額と端数のある金額は0（非対応）になる。
// 金額がない場合はヒューリスティクスを順に試し、どれも判定できなければ0を返す。
func (c *PlanClassifier) Classify(rec *model.PaymentRecord) (int, string) {
	if rec.HasAmount() {
		amount := *rec.Amount
		if amount != math.Trunc(amount) {
			return 0, "amount"
		}
		months, ok := c.amounts[int64(amount)]
		if !ok {
			return 0, "amount"
		}
		return months, "amount"
	}

	for _, h := range c.heuristics {
		if months, ok := h.Classify(rec); ok {
			return months, h.Name
		}
	}
	return 0, ""
}

// IsSupportedPlan は受け付ける月数かどうかを返す。
func IsSupportedPlan(months int) bool {
	return months == QuarterlyMonths || months == HalfYearlyMonths
}

var (
	// semi-annual / half-yearly / biannual は annual より先に取り除く
	halfYearPattern = regexp.MustCompile(`semi[\s_-]?annual(?:ly)?|half[\s_-]?year(?:ly)?|bi[\s_-]?annual(?:ly)?|six[\s_-]?monthly`)
	yearPattern     = regexp.MustCompile(`\b(?:annual(?:ly)?|yearly|annum)\b`)
	quartersPattern = regexp.MustCompile(`(\d+|\b(?:one|two|three|four))[\s_-]*quarters?\b`)
	quarterPattern  = regexp.MustCompile(`\bquarter(?:ly)?\b`)
	monthlyPattern  = regexp.MustCompile(`\bmonthly\b`)
	monthPattern    = regexp.MustCompile(`(\d+|\b(?:one|two|three|four|six|nine|twelve))[\s_-]*(?:months?|mos?)\b`)
	dayPattern      = regexp.MustCompile(`(\d+)[\s_-]*days?\b`)
)

var numberWords = map[string]int{
	"one":    1,
	"two":    2,
	"three":  3,
	"four":   4,
	"six":    6,
	"nine":   9,
	"twelve": 12,
}

// classifyByKeyword はプラン名の語彙から月数を判定する。
// 異なる月数を示す語が混在する場合は意見なしとする。
func classifyByKeyword(rec *model.PaymentRecord) (int, bool) {
	label := strings.ToLower(rec.PlanLabel)
	if strings.TrimSpace(label) == "" {
		return 0, false
	}

	found := make(map[int]bool)

	if halfYearPattern.MatchString(label) {
		found[HalfYearlyMonths] = true
		label = halfYearPattern.ReplaceAllString(label, " ")
	}
	if yearPattern.MatchString(label) {
		found[12] = true
	}
	// "3 quarters" は9か月
	for _, m := range quartersPattern.FindAllStringSubmatch(label, -1) {
		if n, ok := parseCount(m[1]); ok {
			found[n*QuarterlyMonths] = true
		}
	}
	label = quartersPattern.ReplaceAllString(label, " ")
	if quarterPattern.MatchString(label) {
		found[QuarterlyMonths] = true
	}
	if monthlyPattern.MatchString(label) {
		found[1] = true
	}
	for _, m := range monthPattern.FindAllStringSubmatch(label, -1) {
		if n, ok := parseCount(m[1]); ok {
			found[n] = true
		}
	}

	if len(found) != 1 {
		return 0, false
	}
	for months := range found {
		return months, true
	}
	return 0, false
}

// classifyByLabelDays はプラン名に含まれる日数から月数を判定する。
func classifyByLabelDays(rec *model.PaymentRecord) (int, bool) {
	matches := dayPattern.FindAllStringSubmatch(strings.ToLower(rec.PlanLabel), -1)
	if len(matches) == 0 {
		return 0, false
	}

	days := -1
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		if days >= 0 && days != n {
			return 0, false
		}
		days = n
	}
	return monthsFromDays(days)
}

// classifyByDateSpan は開始日と終了日の差から月数を判定する。
func classifyByDateSpan(rec *model.PaymentRecord) (int, bool) {
	if rec.StartDate == nil || rec.EndDate == nil || !rec.EndDate.After(*rec.StartDate) {
		return 0, false
	}
	days := int(math.Round(rec.EndDate.Sub(*rec.StartDate).Hours() / 24))
	return monthsFromDays(days)
}

// monthsFromDays は 90±10日 を3か月、180±10日 を6か月とみなす。
func monthsFromDays(days int) (int, bool) {
	switch {
	case abs(days-90) <= dayTolerance:
		return QuarterlyMonths, true
	case abs(days-180) <= dayTolerance:
		return HalfYearlyMonths, true
	}
	return 0, false
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
