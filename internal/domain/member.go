package domain

import "time"

// Member represents user's participation meta for a call.
// No transport or lifecycle logic here.
type Member struct {
	User     UserID     `json:"userId"`
	Media    MediaFlags `json:"media"`
	JoinedAt time.Time  `json:"joinedAt"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user UserID, media MediaFlags, at time.Time) Member {
	return Member{User: user, Media: media, JoinedAt: at}
}
