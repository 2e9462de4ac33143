package identity

import "time"

// Profile is the outward representation of an Identity. It has no field for
// the secret hash, so nothing derived from it can carry one.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	About       string    `json:"about,omitempty"`
	Location    string    `json:"location,omitempty"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Sanitize strips the secret hash from an identity.
func Sanitize(id Identity) Profile {
	return Profile{
		ID:          id.ID,
		DisplayName: id.DisplayName,
		Email:       deref(id.Email),
		Phone:       deref(id.Phone),
		About:       id.About,
		Location:    id.Location,
		AvatarRef:   id.AvatarRef,
		CreatedAt:   id.CreatedAt,
		UpdatedAt:   id.UpdatedAt,
	}
}

// SanitizeAll maps Sanitize over a slice.
func SanitizeAll(ids []Identity) []Profile {
	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, Sanitize(id))
	}
	return out
}
