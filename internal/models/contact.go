package models

import "time"

// Contact represents a conversational counterpart within a tenant, keyed by
// its primary external identifier (number) and an optional alternate id.
type Contact struct {
	ID            int64                `json:"id"`
	TenantID      int64                `json:"tenantId"`
	Name          string               `json:"name"`
	Number        string               `json:"number"`
	AltID         *string              `json:"altId,omitempty"`
	Email         string               `json:"email,omitempty"`
	ProfilePicURL string               `json:"profilePicUrl,omitempty"`
	IsGroup       bool                 `json:"isGroup"`
	CustomFields  []ContactCustomField `json:"customFields,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// ContactCustomField is a free-form name/value pair owned by one contact.
type ContactCustomField struct {
	ID        int64  `json:"id"`
	ContactID int64  `json:"contactId"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

// ContactInput is the identity/profile data a channel event carries.
type ContactInput struct {
	Name          string `json:"name"`
	Number        string `json:"number"`
	AltID         string `json:"altId,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	IsGroup       bool   `json:"isGroup"`
}
