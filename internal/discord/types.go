package discord

import (
	"fmt"
	"slices"
	"strconv"
)

// User is the subset of GET /users/@me used by the gate.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
}

// SubjectID parses the snowflake id of the user.
func (u *User) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("discord: invalid user id %q", u.ID)
	}
	return id, nil
}

// Guild is one entry of GET /users/@me/guilds.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions,omitempty"`
}

// GuildMember is the caller's membership record in one guild.
//
// Roles is nil when Discord omitted the field (or sent null) and a non-nil,
// possibly empty, slice when it was present.
type GuildMember struct {
	Roles    []string `json:"roles"`
	Nick     string   `json:"nick,omitempty"`
	JoinedAt string   `json:"joined_at,omitempty"`
}

// HasRoles reports whether the roles field was present in the response.
func (m *GuildMember) HasRoles() bool {
	return m.Roles != nil
}

// HasRole reports whether roleID is among the member's roles.
func (m *GuildMember) HasRole(roleID string) bool {
	return slices.Contains(m.Roles, roleID)
}

// ContainsGuild reports whether guilds includes guildID.
func ContainsGuild(guilds []Guild, guildID string) bool {
	return slices.ContainsFunc(guilds, func(g Guild) bool { return g.ID == guildID })
}

// rateLimitBody is Discord's 429 payload.
type rateLimitBody struct {
	Message    string   `json:"message"`
	RetryAfter *float64 `json:"retry_after"`
	Global     bool     `json:"global"`
}
