package domain

import "context"

type LocationRepository interface {
	// UpsertLocation inserts or replaces a location. The parent, when set,
	// must already exist.
	UpsertLocation(ctx context.Context, l Location) error
	GetLocation(ctx context.Context, id string) (Location, error)
	ListLocations(ctx context.Context, q LocationQuery) ([]Location, error)
	// DeleteLocation removes the location, its descendants and every
	// accommodation (with localizations) attached to any of them.
	DeleteLocation(ctx context.Context, id string) error
}

type AccommodationRepository interface {
	// Write paths. All reject unknown partition values with ErrNoPartition
	// and dangling references with ErrMissingReference. SaveAccommodation
	// upserts and keeps the stored owner when a has none;
	// InsertAccommodation fails with ErrDuplicate if the key is taken.
	SaveAccommodation(ctx context.Context, a Accommodation) error
	InsertAccommodation(ctx context.Context, a Accommodation) error
	SaveLocalization(ctx context.Context, l Localization) (Localization, error)
	DeleteAccommodation(ctx context.Context, key AccommodationKey) error

	// Read paths
	GetAccommodation(ctx context.Context, key AccommodationKey) (Accommodation, error)
	ListAccommodations(ctx context.Context, f AccommodationFilter) ([]Accommodation, error)
	ListLocalizations(ctx context.Context, key AccommodationKey) ([]Localization, error)

	// Partition management
	Partitions(ctx context.Context) (Partitions, error)
	AddFeedPartition(ctx context.Context, feed Feed) error
	AddLanguagePartition(ctx context.Context, lang string) error
}

type AccountRepository interface {
	// CreateUser inserts the user and its role memberships atomically.
	CreateUser(ctx context.Context, u User, roles ...string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	// EnsureRole creates the role when missing. With overwrite set, the
	// role's permissions are replaced by r.Permissions.
	EnsureRole(ctx context.Context, r Role, overwrite bool) (Role, error)
	GetRole(ctx context.Context, name string) (Role, error)
}

type IngestLog interface {
	LogMiss(ctx context.Context, feed Feed, id string, status int, reason string) error
}

// Store is everything a storage backend provides.
type Store interface {
	LocationRepository
	AccommodationRepository
	AccountRepository
	IngestLog
	Migrate(ctx context.Context) error
	Close() error
}

// FeedClient pulls raw listing payloads from an external feed.
type FeedClient interface {
	ListListingIDs(ctx context.Context, page int) (ids []string, more bool, err error)
	GetListing(ctx context.Context, id string) (map[string]any, error)
	GetDescription(ctx context.Context, id, lang string) (map[string]any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
