package gate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
)

const maxAffirmativeRunes = 40

var (
	englishAffirmatives = []string{"yes", "yeah", "yep", "yup", "ok", "okay", "sure", "confirm", "confirmed", "please", "alright"}
	englishPhrases      = []string{"please do", "go ahead", "do it", "sounds good", "that works"}
	englishNegations    = []string{"no", "not", "don't", "dont", "never", "cancel", "wait", "stop", "nope"}

	thaiAffirmatives = []string{"ใช่", "ได้", "ตกลง", "โอเค", "จัดการเลย", "ยืนยัน"}
	thaiNegations    = []string{"ไม่", "อย่า", "ยกเลิก", "รอก่อน"}
)

// ClassifyConfirmation decides how the message answers the pending offer.
// Anything short of an unambiguous yes to the offer made last turn is not
// treated as consent.
func ClassifyConfirmation(pending *statex.PendingCommitment, turnIndex int, message string, c contractx.Confirmation) contractx.ConfirmationSignal {
	if pending == nil {
		return contractx.ConfirmNone
	}
	target := strings.TrimSpace(c.Target)
	fresh := pending.OfferedTurn == turnIndex-1

	switch c.Signal {
	case contractx.ConfirmAffirmative:
		if !fresh {
			return contractx.ConfirmAmbiguous
		}
		if target == pending.ToolName {
			return contractx.ConfirmAffirmative
		}
		if target == "" && LexicalAffirmative(message) {
			return contractx.ConfirmAffirmative
		}
		return contractx.ConfirmAmbiguous
	case contractx.ConfirmNegative:
		if target == "" || target == pending.ToolName {
			return contractx.ConfirmNegative
		}
		return contractx.ConfirmAmbiguous
	case contractx.ConfirmAmbiguous:
		return contractx.ConfirmAmbiguous
	default:
		if fresh && LexicalAffirmative(message) {
			return contractx.ConfirmAmbiguous
		}
		return contractx.ConfirmNone
	}
}

// LexicalAffirmative reports whether a short message reads as a plain yes in
// English or Thai. Any negation word disqualifies it.
func LexicalAffirmative(message string) bool {
	s := strings.ToLower(strings.TrimSpace(message))
	if s == "" || utf8.RuneCountInString(s) > maxAffirmativeRunes {
		return false
	}

	words := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	for _, w := range words {
		for _, neg := range englishNegations {
			if w == neg {
				return false
			}
		}
	}
	for _, neg := range thaiNegations {
		if strings.Contains(s, neg) {
			return false
		}
	}

	padded := " " + strings.Join(words, " ") + " "
	for _, p := range englishPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	for _, w := range words {
		for _, a := range englishAffirmatives {
			if w == a {
				return true
			}
		}
	}
	for _, a := range thaiAffirmatives {
		if strings.Contains(s, a) {
			return true
		}
	}
	return false
}
