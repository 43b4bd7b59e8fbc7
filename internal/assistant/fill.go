package assistant

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
)

// fillKeywords mark a message as a request to enter data.
var fillKeywords = []string{"fill", "enter", "set", "as ", "put", "update", "change"}

// connector must sit between a field name and its value.
const connector = `(?:\s+(?:with|to|as|is)\s+|\s*[:=]\s*)`

var (
	reEmail        = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w+`)
	reFirstName    = regexp.MustCompile(`(?i)\bfirst\s?name` + connector + `([^\s,.;?]+)`)
	reLastName     = regexp.MustCompile(`(?i)\b(?:last\s?name|surname)` + connector + `([^\s,.;?]+)`)
	reDate         = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|\d{1,2}-\d{1,2}-\d{4})\b`)
	reAge          = regexp.MustCompile(`(?i)\bage` + connector + `(\d{1,3})\b`)
	rePhone        = regexp.MustCompile(`(\+?\d[\d\s\-()]{8,}\d)`)
	reAddress      = regexp.MustCompile(`(?i)\baddress` + connector + `(.+)$`)
	reEmergencyNm  = regexp.MustCompile(`(?i)\bemergency(?:\s+contact)?(?:'s)?\s+name` + connector + `(.+)$`)
	reSignature    = regexp.MustCompile(`(?i)\b(?:signature|sign)` + connector + `(.+)$`)
	reNextClause   = regexp.MustCompile(`(?i)\s+(?:and|then)\s+(?:set|fill|enter|put|update|change|my|the|first|last|surname|e-?mail|phone|age|date|dob|address|emergency|signature|sign|hospital)\b.*$`)
	reYes          = regexp.MustCompile(`(?i)\byes\b`)
	reNo           = regexp.MustCompile(`(?i)\bno\b`)
	trailingFiller = " .,;!?\"'"
)

// fillerWords are captures that belong to a question rather than a value.
var fillerWords = map[string]bool{
	"field": true, "here": true, "please": true, "there": true, "it": true,
	"this": true, "that": true, "what": true, "how": true, "required": true,
	"needed": true, "correct": true, "right": true, "ok": true, "okay": true,
	"the": true, "my": true, "a": true, "an": true, "on": true, "in": true,
	"i": true, "me": true, "you": true, "for": true, "wrong": true,
}

// hospitalAliases maps phrases to hospital option values, checked in order.
var hospitalAliases = []struct {
	alias string
	value string
}{
	{"university college", "uclh"},
	{"uclh", "uclh"},
	{"guy's", "guys"},
	{"guys", "guys"},
	{"imperial", "imperial"},
	{"king", "kings"},
	{"barts", "barts"},
	{"st bartholomew", "barts"},
}

// isFillRequest reports whether the message asks to enter data.
func isFillRequest(text string) bool {
	for _, k := range fillKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func cleanValue(v string) string {
	return strings.Trim(strings.TrimSpace(v), trailingFiller)
}

// fieldValue cleans a captured value, cutting off any following clause. It
// returns "" for captures that read as part of a question.
func fieldValue(capture string) string {
	v := cleanValue(reNextClause.ReplaceAllString(capture, ""))
	lower := strings.ToLower(v)
	first, _, _ := strings.Cut(lower, " ")
	question := strings.HasSuffix(strings.TrimSpace(capture), "?")
	if fillerWords[lower] || first == "field" || (question && fillerWords[first]) {
		return ""
	}
	return v
}

// toISODate converts dd/mm/yyyy or dd-mm-yyyy to yyyy-mm-dd.
func toISODate(d string) string {
	sep := "/"
	if !strings.Contains(d, "/") {
		if len(d) > 4 && d[4] == '-' {
			return d
		}
		sep = "-"
	}
	parts := strings.Split(d, sep)
	if len(parts) != 3 {
		return d
	}
	return parts[2] + "-" + pad2(parts[1]) + "-" + pad2(parts[0])
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// parseFill extracts field values from a data-entry message. The result holds
// only recognised fields; an empty patch means the message was not a fill.
func parseFill(message string) consentform.Patch {
	lower := strings.ToLower(message)
	patch := consentform.Patch{}

	if m := reEmail.FindString(message); m != "" && strings.Contains(lower, "mail") {
		patch[string(consentform.Email)] = m
	}
	if m := reFirstName.FindStringSubmatch(message); m != nil {
		patch[string(consentform.FirstName)] = fieldValue(m[1])
	}
	if m := reLastName.FindStringSubmatch(message); m != nil {
		patch[string(consentform.LastName)] = fieldValue(m[1])
	}
	if m := reDate.FindString(message); m != "" {
		switch {
		case strings.Contains(lower, "date of birth"), containsTerm(lower, "dob"), strings.Contains(lower, "birthday"), strings.Contains(lower, "born"):
			patch[string(consentform.DateOfBirth)] = toISODate(m)
		case strings.Contains(lower, "tetanus"):
			patch[string(consentform.LastTetanusShot)] = toISODate(m)
		}
	}
	if m := reAge.FindStringSubmatch(message); m != nil {
		patch[string(consentform.Age)] = m[1]
	}
	if m := rePhone.FindStringSubmatch(message); m != nil && (strings.Contains(lower, "phone") || strings.Contains(lower, "number")) {
		phone := strings.TrimSpace(m[1])
		if strings.Contains(lower, "emergency") {
			patch[string(consentform.EmergencyContactPhone)] = phone
		} else {
			patch[string(consentform.PhoneNumber)] = phone
		}
	}
	emailOnly := strings.Contains(lower, "email address") && !strings.Contains(lower, "home address")
	if m := reAddress.FindStringSubmatch(message); m != nil && !emailOnly {
		patch[string(consentform.Address)] = fieldValue(m[1])
	}
	if m := reEmergencyNm.FindStringSubmatch(message); m != nil {
		patch[string(consentform.EmergencyContactName)] = fieldValue(m[1])
	}
	if strings.Contains(lower, "ucla") {
		switch {
		case reYes.MatchString(lower):
			patch[string(consentform.IsUCLAPatient)] = "yes"
		case reNo.MatchString(lower), strings.Contains(lower, "not a ucla"):
			patch[string(consentform.IsUCLAPatient)] = "no"
		}
	}
	if strings.Contains(lower, "hospital") && !strings.Contains(lower, "preferred hospital") {
		for _, h := range hospitalAliases {
			if containsTerm(lower, h.alias) {
				patch[string(consentform.Hospital)] = h.value
				break
			}
		}
	}
	if m := reSignature.FindStringSubmatch(message); m != nil {
		patch[string(consentform.Signature)] = fieldValue(m[1])
	}

	for k, v := range patch {
		if s, ok := v.(string); ok && s == "" {
			delete(patch, k)
		}
	}
	return patch
}

// fillReply confirms which fields a patch touched.
func fillReply(patch consentform.Patch) string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return updatedReply(keys)
}

func updatedReply(keys []string) string {
	return fmt.Sprintf("I've updated the following fields: %s. You can continue filling the form or ask me questions about any field.", strings.Join(keys, ", "))
}
