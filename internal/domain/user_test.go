package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUser_EffectiveLastActivity(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	login := created.Add(24 * time.Hour)
	activity := created.Add(48 * time.Hour)

	tests := []struct {
		name string
		user User
		want time.Time
	}{
		{
			name: "activity wins over login and creation",
			user: User{CreatedAt: created, LastLoginAt: &login, LastActivityAt: &activity},
			want: activity,
		},
		{
			name: "login wins over creation",
			user: User{CreatedAt: created, LastLoginAt: &login},
			want: login,
		},
		{
			name: "creation as last resort",
			user: User{CreatedAt: created},
			want: created,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.user.EffectiveLastActivity())
		})
	}
}

func TestNewUser(t *testing.T) {
	user := NewUser("ext-1", "alice", 2)

	require.Equal(t, "ext-1", user.ExternalID)
	require.Equal(t, "alice", user.Name)
	require.Equal(t, 2, user.TrustLevel)
	require.Nil(t, user.RemoteKeyID)
	require.False(t, user.HasRemoteKey())
	require.False(t, user.KeyAutoDisabled)
	require.NotNil(t, user.LastLoginAt)
	require.Equal(t, user.CreatedAt, *user.LastLoginAt)
}

func TestUser_HasRemoteKey(t *testing.T) {
	keyID := int64(7)
	require.True(t, (&User{RemoteKeyID: &keyID}).HasRemoteKey())
	require.False(t, (&User{}).HasRemoteKey())
}
