package models

import (
	"time"

	"github.com/google/uuid"
)

// Render statuses.
const (
	RenderStatusPending    = "pending"
	RenderStatusProcessing = "processing"
	RenderStatusCompleted  = "completed"
	RenderStatusFailed     = "failed"
)

// RoomTypes and Styles are the catalog the UI offers; order matters for
// display. The maps below are the lookup form used for request validation.
var (
	RoomTypes = []string{"living_room", "bedroom", "kitchen", "bathroom", "dining_room", "home_office"}
	Styles    = []string{"modern", "minimalist", "scandinavian", "industrial", "bohemian", "coastal", "japandi"}
)

var (
	AllowedRoomTypes = toSet(RoomTypes)
	AllowedStyles    = toSet(Styles)
)

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

type Render struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	RoomType       string    `json:"room_type"`
	Style          string    `json:"style"`
	InputImageURL  string    `json:"input_image_url"`
	OutputImageURL *string   `json:"output_image_url,omitempty"`
	Status         string    `json:"status"`
	CreditsCharged int       `json:"credits_charged"`
	ErrorReason    *string   `json:"error_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
