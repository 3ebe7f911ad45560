package postgres

// -----------------------------------------------------------------------------
// LOCATIONS
// -----------------------------------------------------------------------------

const upsertLocationSQL = `
INSERT INTO locations
  (id, title, center, parent_id, location_type, country_code, state_abbr, city, created_at, updated_at)
VALUES
  ($1, $2, point($3, $4), $5, $6, $7, $8, $9, COALESCE($10::timestamptz, now()), now())
ON CONFLICT (id) DO UPDATE SET
  title         = EXCLUDED.title,
  center        = EXCLUDED.center,
  parent_id     = EXCLUDED.parent_id,
  location_type = EXCLUDED.location_type,
  country_code  = EXCLUDED.country_code,
  state_abbr    = EXCLUDED.state_abbr,
  city          = EXCLUDED.city,
  updated_at    = now()
`

const selectLocationCols = `
SELECT id, title, center[0], center[1], parent_id, location_type,
       country_code, state_abbr, city, created_at, updated_at
FROM locations
`

const getLocationSQL = selectLocationCols + `WHERE id = $1`

// descendants and their accommodations go with the ON DELETE CASCADE chain
const deleteLocationSQL = `DELETE FROM locations WHERE id = $1`

// -----------------------------------------------------------------------------
// ACCOMMODATIONS
// -----------------------------------------------------------------------------

const insertAccommodationSQL = `
INSERT INTO accommodations
  (id, feed, title, country_code, bedroom_count, review_score, usd_rate, center,
   images, amenities, location_id, user_id, published, created_at, updated_at)
VALUES
  ($1, $2, $3, $4, $5, CAST($6::text AS numeric), CAST($7::text AS numeric), point($8, $9),
   $10::text[], $11::text[], $12, $13, $14, now(), now())
`

// an ownerless upsert keeps the stored owner
const upsertAccommodationSQL = insertAccommodationSQL + `
ON CONFLICT (id, feed) DO UPDATE SET
  title         = EXCLUDED.title,
  country_code  = EXCLUDED.country_code,
  bedroom_count = EXCLUDED.bedroom_count,
  review_score  = EXCLUDED.review_score,
  usd_rate      = EXCLUDED.usd_rate,
  center        = EXCLUDED.center,
  images        = EXCLUDED.images,
  amenities     = EXCLUDED.amenities,
  location_id   = EXCLUDED.location_id,
  user_id       = COALESCE(EXCLUDED.user_id, accommodations.user_id),
  published     = EXCLUDED.published,
  updated_at    = now()
`

const selectAccommodationCols = `
SELECT id, feed, title, country_code, bedroom_count,
       review_score::text, usd_rate::text,
       center[0], center[1], images, amenities,
       location_id, user_id, published, created_at, updated_at
FROM accommodations
`

const getAccommodationSQL = selectAccommodationCols + `WHERE id = $1 AND feed = $2`

// localizations go with fk_localizations_parent
const deleteAccommodationSQL = `DELETE FROM accommodations WHERE id = $1 AND feed = $2`

// -----------------------------------------------------------------------------
// LOCALIZATIONS
// -----------------------------------------------------------------------------

const localizationCols = `id, property_id, feed, language, description, policy::text, created_at, updated_at`

const upsertLocalizationSQL = `
INSERT INTO accommodation_localizations
  (property_id, feed, language, description, policy)
VALUES
  ($1, $2, $3, $4, CAST($5::text AS jsonb))
ON CONFLICT (property_id, feed, language) DO UPDATE SET
  description = EXCLUDED.description,
  policy      = EXCLUDED.policy,
  updated_at  = now()
RETURNING ` + localizationCols

const listLocalizationsSQL = `SELECT ` + localizationCols + `
FROM accommodation_localizations
WHERE property_id = $1 AND feed = $2
ORDER BY language
`

// -----------------------------------------------------------------------------
// ACCOUNTS
// -----------------------------------------------------------------------------

const insertUserSQL = `
INSERT INTO users (username, email, password_hash, is_superuser, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now()))
RETURNING id
`

const selectUserCols = `SELECT id, username, email, password_hash, is_superuser, created_at FROM users `

const getUserSQL = selectUserCols + `WHERE id = $1`
const getUserByNameSQL = selectUserCols + `WHERE username = $1`

const userRolesSQL = `
SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 ORDER BY r.name
`

const userPermissionsSQL = `
SELECT DISTINCT rp.codename FROM user_roles ur JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.user_id = $1 ORDER BY rp.codename
`

const roleIDSQL = `SELECT id FROM roles WHERE name = $1`
const lockRoleSQL = `SELECT id FROM roles WHERE name = $1 FOR UPDATE`
const insertRoleSQL = `INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`
const insertUserRoleSQL = `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`
const clearRolePermsSQL = `DELETE FROM role_permissions WHERE role_id = $1`
const insertRolePermSQL = `INSERT INTO role_permissions (role_id, codename) VALUES ($1, $2) ON CONFLICT DO NOTHING`
const rolePermsSQL = `SELECT codename FROM role_permissions WHERE role_id = $1 ORDER BY codename`

// -----------------------------------------------------------------------------
// MISC
// -----------------------------------------------------------------------------

const insertMissSQL = `
INSERT INTO ingest_misses (feed, id, reason, http_status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (feed, id, reason) DO UPDATE SET http_status = EXCLUDED.http_status, seen_at = now()
`

const selectPartitionBoundsSQL = `
SELECT pg_get_expr(c.relpartbound, c.oid)
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
WHERE i.inhparent = $1::regclass
`
