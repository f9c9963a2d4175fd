package api

import "time"

// ------------------------------------------------------------------------------------------------
// General naming conventions:
// ------------------------------------------------------------------------------------------------
// - ...Config - represents an object specified by the user when requesting a run.
// - ...Resource - represents an object stored in the run database.
// - ...Ref - represents a reference to an object
// - ...Error - represents an error reported to the user
// ------------------------------------------------------------------------------------------------

// The tenant that scopes objects stored in the run database. On an HPC login
// node this is the invoking user name.
type Tenant string

// Resource represents base resource fields
type Resource struct {
	ID        string    `json:"id"`
	Tenant    Tenant    `json:"tenant"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageInfo carries a user-facing message together with its stable code.
type MessageInfo struct {
	Message     string `json:"message"`
	MessageCode string `json:"message_code,omitempty"`
}
