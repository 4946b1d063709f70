package model

import (
	"encoding/json"
	"time"
)

// CacheEntry is one cached external-lookup payload keyed by normalized CNPJ.
type CacheEntry struct {
	CNPJ      string          `json:"cnpj"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Count  int        `json:"count"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}
