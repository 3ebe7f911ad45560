package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

// Feed identifies the data source/channel of a listing and selects its
// storage partition.
type Feed int16

type Accommodation struct {
	ID           string    `json:"id" validate:"required,max=20"`
	Feed         Feed      `json:"feed" validate:"min=0"`
	Title        string    `json:"title" validate:"required,max=100"`
	CountryCode  string    `json:"country_code" validate:"required,len=2"`
	BedroomCount int       `json:"bedroom_count" validate:"min=0"`
	ReviewScore  Score     `json:"review_score" validate:"min=0,max=999"`
	USDRate      Cents     `json:"usd_rate" validate:"min=0,max=9999999999"`
	Center       Point     `json:"center"`
	Images       []string  `json:"images" validate:"dive,max=300"`
	Amenities    []string  `json:"amenities" validate:"dive,max=100"`
	LocationID   string    `json:"location_id" validate:"required,max=20"`
	OwnerID      *int64    `json:"user_id,omitempty"`
	Published    bool      `json:"published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the partition-aware primary key.
func (a Accommodation) Key() AccommodationKey { return AccommodationKey{ID: a.ID, Feed: a.Feed} }

type AccommodationKey struct {
	ID   string
	Feed Feed
}

// Localization is the per-language overlay of an Accommodation.
type Localization struct {
	ID          int64           `json:"id"`
	PropertyID  string          `json:"property_id" validate:"required,max=20"`
	Feed        Feed            `json:"feed" validate:"min=0"`
	Language    string          `json:"language" validate:"required,len=2,lowercase,alpha"`
	Description string          `json:"description"`
	Policy      json.RawMessage `json:"policy,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AccommodationFilter narrows ListAccommodations. A nil OwnerID means any
// owner; the access policy decides whether it may stay nil.
type AccommodationFilter struct {
	OwnerID     *int64
	Feed        *Feed
	Published   *bool
	CountryCode *string
	Query       *string
	Limit       int
}

// ListingView is the public, language-resolved read model.
type ListingView struct {
	ID           string          `json:"id"`
	Feed         Feed            `json:"feed"`
	Title        string          `json:"title"`
	CountryCode  string          `json:"country_code"`
	BedroomCount int             `json:"bedroom_count"`
	ReviewScore  Score           `json:"review_score"`
	USDRate      Cents           `json:"usd_rate"`
	Center       Point           `json:"center"`
	Images       []string        `json:"images"`
	Amenities    []string        `json:"amenities"`
	LocationID   string          `json:"location_id"`
	Language     string          `json:"language"`
	Description  *string         `json:"description,omitempty"`
	Policy       json.RawMessage `json:"policy,omitempty"`
}

// Partitions lists the partition values currently defined by a store.
type Partitions struct {
	Feeds     []Feed   `json:"feeds"`
	Languages []string `json:"languages"`
}

var languageRE = regexp.MustCompile(`^[a-z]{2}$`)

// ValidLanguage reports whether lang is a two letter lowercase code. Only
// such values are ever spliced into partition DDL.
func ValidLanguage(lang string) bool { return languageRE.MatchString(lang) }
