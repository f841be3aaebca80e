package wire

// Profile is denormalized sender metadata joined onto messages.
type Profile struct {
	// ID is the user id.
	ID string `json:"id"`
	// DisplayName is the user-visible name.
	DisplayName string `json:"displayName"`
	// AvatarRef is an opaque reference to the user's avatar.
	AvatarRef string `json:"avatarRef,omitempty"`
}

// UnknownDisplayName is the display name used when a profile cannot be
// resolved (deleted user, or a race with the insert).
const UnknownDisplayName = "Unknown"

// UnknownProfile is the sentinel returned for unresolvable user ids. It is
// cached like a regular profile so missing users are not refetched per event.
func UnknownProfile(id string) Profile {
	return Profile{ID: id, DisplayName: UnknownDisplayName}
}

// Unknown reports whether p is the unresolved sentinel.
func (p Profile) Unknown() bool {
	return p.DisplayName == UnknownDisplayName && p.AvatarRef == ""
}
