package authclient

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength is the shortest password accepted at sign up.
const MinPasswordLength = 6

// Profile is the application owned record for a principal.
type Profile struct {
	ID                string     `json:"_id,omitempty"`
	SubjectID         string     `json:"firebaseUid,omitempty"`
	Role              Role       `json:"role,omitempty"`
	FullName          string     `json:"fullName,omitempty"`
	Email             *string    `json:"email"`
	DateOfBirth       *string    `json:"dateOfBirth,omitempty"`
	Phone             *string    `json:"phone,omitempty"`
	EmergencyContact  *string    `json:"emergencyContact,omitempty"`
	MedicalConditions *string    `json:"medicalConditions,omitempty"`
	ProfilePicture    *string    `json:"profilePicture,omitempty"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy. A nil profile clones to nil.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}

	out := *p
	out.Email = cloneString(p.Email)
	out.DateOfBirth = cloneString(p.DateOfBirth)
	out.Phone = cloneString(p.Phone)
	out.EmergencyContact = cloneString(p.EmergencyContact)
	out.MedicalConditions = cloneString(p.MedicalConditions)
	out.ProfilePicture = cloneString(p.ProfilePicture)
	out.CreatedAt = cloneTime(p.CreatedAt)
	out.UpdatedAt = cloneTime(p.UpdatedAt)
	return &out
}

// ProfileUpdate is a profile returned by a PATCH. It records which keys the
// server sent, so an explicit null clears the field on merge while an omitted
// key keeps the previous value.
type ProfileUpdate struct {
	Profile

	fields map[string]struct{}
}

// NewProfileUpdate wraps p as an update carrying exactly the given JSON keys.
func NewProfileUpdate(p Profile, fields ...string) *ProfileUpdate {
	u := &ProfileUpdate{Profile: p, fields: make(map[string]struct{}, len(fields))}
	for _, field := range fields {
		u.fields[field] = struct{}{}
	}
	return u
}

// UnmarshalJSON decodes the profile and remembers the keys present.
func (u *ProfileUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return err
	}

	u.Profile = profile
	u.fields = make(map[string]struct{}, len(raw))
	for key := range raw {
		u.fields[key] = struct{}{}
	}
	return nil
}

// Has reports whether the update carries key. Without recorded keys any
// non-zero field counts as present.
func (u *ProfileUpdate) Has(key string) bool {
	if u == nil {
		return false
	}
	if u.fields != nil {
		_, ok := u.fields[key]
		return ok
	}

	switch key {
	case "_id":
		return u.ID != ""
	case "firebaseUid":
		return u.SubjectID != ""
	case "role":
		return u.Role != ""
	case "fullName":
		return u.FullName != ""
	case "email":
		return u.Email != nil
	case "dateOfBirth":
		return u.DateOfBirth != nil
	case "phone":
		return u.Phone != nil
	case "emergencyContact":
		return u.EmergencyContact != nil
	case "medicalConditions":
		return u.MedicalConditions != nil
	case "profilePicture":
		return u.ProfilePicture != nil
	case "createdAt":
		return u.CreatedAt != nil
	case "updatedAt":
		return u.UpdatedAt != nil
	}
	return false
}

// Merge overlays every key present in update onto a copy of p, null values
// included. Record id, subject id and role only change when the update sends
// a non-empty value. Keys the update omits keep their previous value.
func (p *Profile) Merge(update *ProfileUpdate) *Profile {
	if p == nil {
		if update == nil {
			return nil
		}
		return update.Profile.Clone()
	}

	out := p.Clone()
	if update == nil {
		return out
	}

	if update.ID != "" {
		out.ID = update.ID
	}
	if update.SubjectID != "" {
		out.SubjectID = update.SubjectID
	}
	if update.Role != "" {
		out.Role = update.Role
	}
	if update.Has("fullName") {
		out.FullName = update.FullName
	}
	overlayString(update, "email", &out.Email, update.Email)
	overlayString(update, "dateOfBirth", &out.DateOfBirth, update.DateOfBirth)
	overlayString(update, "phone", &out.Phone, update.Phone)
	overlayString(update, "emergencyContact", &out.EmergencyContact, update.EmergencyContact)
	overlayString(update, "medicalConditions", &out.MedicalConditions, update.MedicalConditions)
	overlayString(update, "profilePicture", &out.ProfilePicture, update.ProfilePicture)
	if update.Has("createdAt") && update.CreatedAt != nil {
		out.CreatedAt = cloneTime(update.CreatedAt)
	}
	if update.Has("updatedAt") {
		out.UpdatedAt = cloneTime(update.UpdatedAt)
	}

	return out
}

func overlayString(update *ProfileUpdate, key string, dst **string, src *string) {
	if update.Has(key) {
		*dst = cloneString(src)
	}
}

// ProfileField names a clearable profile key.
type ProfileField string

// Fields a patch can clear with an explicit null. fullName is required and
// cannot be cleared.
const (
	FieldDateOfBirth       ProfileField = "dateOfBirth"
	FieldPhone             ProfileField = "phone"
	FieldEmergencyContact  ProfileField = "emergencyContact"
	FieldMedicalConditions ProfileField = "medicalConditions"
	FieldProfilePicture    ProfileField = "profilePicture"
)

var clearableFields = []any{
	FieldDateOfBirth,
	FieldPhone,
	FieldEmergencyContact,
	FieldMedicalConditions,
	FieldProfilePicture,
}

// ProfilePatch is the mutable subset of Profile. Nil fields are not sent;
// fields listed in Clear are sent as null.
type ProfilePatch struct {
	FullName          *string `json:"fullName,omitempty"`
	DateOfBirth       *string `json:"dateOfBirth,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	EmergencyContact  *string `json:"emergencyContact,omitempty"`
	MedicalConditions *string `json:"medicalConditions,omitempty"`
	ProfilePicture    *string `json:"profilePicture,omitempty"`

	Clear []ProfileField `json:"-"`
}

// MarshalJSON writes the set fields plus a null for every cleared field.
func (p ProfilePatch) MarshalJSON() ([]byte, error) {
	type plain ProfilePatch
	encoded, err := json.Marshal(plain(p))
	if err != nil || len(p.Clear) == 0 {
		return encoded, err
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &body); err != nil {
		return nil, err
	}
	for _, field := range p.Clear {
		body[string(field)] = json.RawMessage("null")
	}
	return json.Marshal(body)
}

// IsEmpty reports whether the patch carries no fields.
func (p ProfilePatch) IsEmpty() bool {
	return p.FullName == nil &&
		p.DateOfBirth == nil &&
		p.Phone == nil &&
		p.EmergencyContact == nil &&
		p.MedicalConditions == nil &&
		p.ProfilePicture == nil &&
		len(p.Clear) == 0
}

// Validate checks the fields that are present.
func (p ProfilePatch) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.FullName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&p.DateOfBirth, validation.Date("2006-01-02")),
		validation.Field(&p.Phone, validation.Length(0, 32)),
		validation.Field(&p.EmergencyContact, validation.Length(0, 200)),
		validation.Field(&p.MedicalConditions, validation.Length(0, 2000)),
		validation.Field(&p.ProfilePicture, is.URL),
	)
	if err != nil {
		return err
	}

	return validation.Validate(p.Clear,
		validation.Each(validation.In(clearableFields...)),
		validation.By(p.clearConflicts),
	)
}

func (p ProfilePatch) clearConflicts(any) error {
	set := map[ProfileField]bool{
		FieldDateOfBirth:       p.DateOfBirth != nil,
		FieldPhone:             p.Phone != nil,
		FieldEmergencyContact:  p.EmergencyContact != nil,
		FieldMedicalConditions: p.MedicalConditions != nil,
		FieldProfilePicture:    p.ProfilePicture != nil,
	}
	for i, field := range p.Clear {
		if set[field] {
			return fmt.Errorf("%s is both set and cleared", field)
		}
		if slices.Contains(p.Clear[:i], field) {
			return fmt.Errorf("%s is cleared twice", field)
		}
	}
	return nil
}

// SignUpInput is the payload for Coordinator.SignUp.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	FullName string `json:"fullName"`
}

// Validate checks the sign up form rules.
func (r SignUpInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&r.Role, validation.Required, validation.In(RoleCamper, RoleAdmin)),
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 200)),
	)
}

// StringPtr returns a pointer to s, handy when building patches.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
