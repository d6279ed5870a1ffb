package market

import "time"

type Market struct {
	Slug        string    `json:"slug"`
	DisplayName string    `json:"displayName"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
}
