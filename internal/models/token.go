package models

import (
	"time"
)

// PortalTokenInfo describes a member's online-bidding portal token and its
// usage counters, as stored in redis.
type PortalTokenInfo struct {
	Token           string    `json:"token"`
	RequestCount    int       `json:"request_count"`
	LastRequestTime time.Time `json:"last_request_dttm_utc"`
	CreatedTime     time.Time `json:"created_dttm_utc"`
}
