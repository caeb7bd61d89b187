// Package identity manages DAFS user identities, their registered devices,
// and the session tokens issued once an identity has proven control of its
// private key.
package identity

import (
	"time"

	"github.com/dafs-project/dafs/pkg/crypto"
)

// DeviceType classifies the kind of client a device entry represents.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceLaptop  DeviceType = "laptop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceServer  DeviceType = "server"
	DeviceUnknown DeviceType = "unknown"
)

// Device is one client registered under a User identity.
type Device struct {
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name"`
	DeviceType DeviceType `json:"device_type"`
	LastLogin  int64      `json:"last_login"`
	IsCurrent  bool       `json:"is_current"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
}

// User is a DAFS identity: a username, a long-lived X25519 public key used
// for peer key agreement, and the devices currently registered to it.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   int64     `json:"created_at"`
	LastSeen    int64     `json:"last_seen"`
	Devices     []Device  `json:"devices"`
	PublicKey   [32]byte  `json:"public_key"`
	IsActive    bool      `json:"is_active"`
}

// WrappedIdentity is what gets persisted for a User: the public record
// plus the password-wrapped seed needed to reconstruct their private key
// on a future login. The seed itself is never stored.
type WrappedIdentity struct {
	User        User               `json:"user"`
	WrappedSeed crypto.WrappedSeed `json:"wrapped_seed"`
}

// touchLastSeen returns a copy of u with LastSeen set to now.
func touchLastSeen(u User, now time.Time) User {
	u.LastSeen = now.Unix()
	return u
}
</content>
