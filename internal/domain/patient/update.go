package patient

import (
	"strings"

	"github.com/ehr/records/internal/platform/patch"
)

// UpdateRequest is the body of PUT /patients/:id. Absent, null and blank
// fields leave the stored value untouched. Version, when sent, must equal
// the stored version.
type UpdateRequest struct {
	Identifier patch.Value[string] `json:"identifier"`
	GivenName  patch.Value[string] `json:"given_name"`
	FamilyName patch.Value[string] `json:"family_name"`
	BirthDate  patch.Value[Date]   `json:"birth_date"`
	Username   patch.Value[string] `json:"username"`
	Email      patch.Value[string] `json:"email"`
	Gender     patch.Value[string] `json:"gender"`
	Version    patch.Value[int64]  `json:"version"`
}

// apply merges the request into p and returns the names of changed fields.
// The request must have passed validateUpdate.
func (r *UpdateRequest) apply(p *Patient) []string {
	var gender patch.Value[Gender]
	if raw, ok := r.Gender.Get(); ok {
		if g, ok := ParseGender(raw); ok {
			gender = patch.Some(g)
		}
	}

	return patch.Merge(
		patch.Field("identifier", &p.Identifier, trimmed(r.Identifier)),
		patch.Field("given_name", &p.GivenName, trimmed(r.GivenName)),
		patch.Field("family_name", &p.FamilyName, trimmed(r.FamilyName)),
		patch.Field("birth_date", &p.BirthDate, r.BirthDate),
		patch.Field("username", &p.Username, trimmed(r.Username)),
		patch.Field("email", &p.Email, trimmed(r.Email)),
		patch.Nullable("gender", &p.Gender, gender),
	)
}

// changes reports which unique fields the request would change on p.
func (r *UpdateRequest) changes(p *Patient) (identifier, username, email string) {
	if v, ok := r.Identifier.Get(); ok && patch.Present(r.Identifier) && strings.TrimSpace(v) != p.Identifier {
		identifier = strings.TrimSpace(v)
	}
	if v, ok := r.Username.Get(); ok && patch.Present(r.Username) && strings.TrimSpace(v) != p.Username {
		username = strings.TrimSpace(v)
	}
	if v, ok := r.Email.Get(); ok && patch.Present(r.Email) && strings.TrimSpace(v) != p.Email {
		email = strings.TrimSpace(v)
	}
	return identifier, username, email
}

func trimmed(v patch.Value[string]) patch.Value[string] {
	s, ok := v.Get()
	if !ok {
		return v
	}
	return patch.Some(strings.TrimSpace(s))
}
