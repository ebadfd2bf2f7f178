package patient

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/patch"
)

const (
	maxIdentifierLen = 50
	maxNameLen       = 100
	maxUsernameLen   = 50
	maxEmailLen      = 100
)

type textRule struct {
	field string
	label string
	max   int
}

var (
	identifierRule = textRule{"identifier", "Identifier", maxIdentifierLen}
	givenNameRule  = textRule{"given_name", "Given name", maxNameLen}
	familyNameRule = textRule{"family_name", "Family name", maxNameLen}
	usernameRule   = textRule{"username", "Username", maxUsernameLen}
)

// check validates a value that is present.
func (r textRule) check(v string, errs apperr.Fields) {
	if utf8.RuneCountInString(strings.TrimSpace(v)) > r.max {
		errs.Add(r.field, r.label+" must be less than "+strconv.Itoa(r.max)+" characters")
	}
}

func (r textRule) required(v string, errs apperr.Fields) {
	if strings.TrimSpace(v) == "" {
		errs.Add(r.field, r.label+" is required")
		return
	}
	r.check(v, errs)
}

func checkEmail(v string, errs apperr.Fields) {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > maxEmailLen {
		errs.Add("email", "Email must be less than 100 characters")
		return
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v || addr.Name != "" {
		errs.Add("email", "Email must be valid")
	}
}

func checkBirthDate(d Date, today Date, errs apperr.Fields) {
	if d.After(today.Time) {
		errs.Add("birth_date", "Birth date must be in the past or present")
	}
}

func checkGender(v string, errs apperr.Fields) {
	if _, ok := ParseGender(v); !ok {
		errs.Add("gender", "Gender must be one of male, female, other, unknown")
	}
}

func validateCreate(r *CreateRequest, today Date) error {
	errs := apperr.Fields{}
	identifierRule.required(r.Identifier, errs)
	givenNameRule.required(r.GivenName, errs)
	familyNameRule.required(r.FamilyName, errs)
	if r.BirthDate == nil || r.BirthDate.IsZero() {
		errs.Add("birth_date", "Birth date is required")
	} else {
		checkBirthDate(*r.BirthDate, today, errs)
	}
	usernameRule.required(r.Username, errs)
	if strings.TrimSpace(r.Email) == "" {
		errs.Add("email", "Email is required")
	} else {
		checkEmail(r.Email, errs)
	}
	if strings.TrimSpace(r.Gender) != "" {
		checkGender(r.Gender, errs)
	}

	for i := range r.Encounters {
		r.Encounters[i].Validate("encounters["+strconv.Itoa(i)+"].", errs)
	}
	for i := range r.Observations {
		r.Observations[i].Validate("observations["+strconv.Itoa(i)+"].", errs)
	}
	return errs.Err()
}

// validateUpdate applies the creation rules to the fields that will be merged.
func validateUpdate(r *UpdateRequest, today Date) error {
	errs := apperr.Fields{}
	textField := func(rule textRule, v patch.Value[string]) {
		if s, _ := v.Get(); patch.Present(v) {
			rule.check(s, errs)
		}
	}
	textField(identifierRule, r.Identifier)
	textField(givenNameRule, r.GivenName)
	textField(familyNameRule, r.FamilyName)
	textField(usernameRule, r.Username)
	if s, _ := r.Email.Get(); patch.Present(r.Email) {
		checkEmail(s, errs)
	}
	if d, ok := r.BirthDate.Get(); ok {
		checkBirthDate(d, today, errs)
	}
	if s, _ := r.Gender.Get(); patch.Present(r.Gender) {
		checkGender(s, errs)
	}
	if v, ok := r.Version.Get(); ok && v < 0 {
		errs.Add("version", "Version must not be negative")
	}
	return errs.Err()
}
