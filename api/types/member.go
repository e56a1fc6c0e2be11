package types

import "time"

// Membership statuses.
const (
	MemberStatusPending  = "pending"
	MemberStatusAccepted = "accepted"
	MemberStatusRejected = "rejected"
)

// Member shares a private image with another tenant.
type Member struct {
	ImageID string `json:"image_id"`

	// Member is the tenant the image is shared with.
	Member string `json:"member_id"`

	// CanShare grants the member permission to share the image onward.
	CanShare bool `json:"can_share"`

	Status string `json:"status,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Deleted   bool       `json:"deleted"`
}

// MemberUpdate describes a partial membership update. Nil fields keep
// their stored value.
type MemberUpdate struct {
	CanShare *bool
	Status   *string
}

// MemberInput is one incoming membership in a replace or upsert call.
// CanShare is a pointer so "unspecified" can default to the stored value.
type MemberInput struct {
	Member   string
	CanShare *bool
}
