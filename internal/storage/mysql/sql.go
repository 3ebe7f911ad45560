package mysql

// -----------------------------------------------------------------------------
// LOCATIONS
// -----------------------------------------------------------------------------

// created_at keeps the stored value on update; a NULL insert value means now.
const upsertLocationSQL = `
INSERT INTO locations
  (id, title, center, parent_id, location_type, country_code, state_abbr, city, created_at, updated_at)
VALUES
  (?, ?, ST_GeomFromText(?), ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP(6)), CURRENT_TIMESTAMP(6))
ON DUPLICATE KEY UPDATE
  title         = VALUES(title),
  center        = VALUES(center),
  parent_id     = VALUES(parent_id),
  location_type = VALUES(location_type),
  country_code  = VALUES(country_code),
  state_abbr    = VALUES(state_abbr),
  city          = VALUES(city),
  updated_at    = CURRENT_TIMESTAMP(6)
`

const selectLocationCols = `
SELECT id, title, ST_X(center), ST_Y(center), parent_id, location_type,
       country_code, state_abbr, city, created_at, updated_at
FROM locations
`

const getLocationSQL = selectLocationCols + `WHERE id = ?`

const lockLocationSQL = `SELECT 1 FROM locations WHERE id = ? FOR UPDATE`

const subtreeCTE = `
WITH RECURSIVE subtree (id) AS (
  SELECT id FROM locations WHERE id = ?
  UNION ALL
  SELECT l.id FROM locations l JOIN subtree s ON l.parent_id = s.id
)
`

const deleteSubtreeLocalizationsSQL = subtreeCTE + `
DELETE lo FROM accommodation_localizations lo
JOIN accommodations a ON a.id = lo.property_id AND a.feed = lo.feed
WHERE a.location_id IN (SELECT id FROM subtree)
`

const deleteSubtreeAccommodationsSQL = subtreeCTE + `
DELETE a FROM accommodations a
WHERE a.location_id IN (SELECT id FROM subtree)
`

// children go with fk_locations_parent ON DELETE CASCADE
const deleteLocationSQL = `DELETE FROM locations WHERE id = ?`

// -----------------------------------------------------------------------------
// ACCOMMODATIONS
// -----------------------------------------------------------------------------

const insertAccommodationSQL = `
INSERT INTO accommodations
  (id, feed, title, country_code, bedroom_count, review_score, usd_rate, center,
   images, amenities, location_id, user_id, published, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ST_GeomFromText(?), ?, ?, ?, ?, ?, CURRENT_TIMESTAMP(6), CURRENT_TIMESTAMP(6))
`

// an ownerless upsert keeps the stored owner
const upsertAccommodationSQL = insertAccommodationSQL + `
ON DUPLICATE KEY UPDATE
  title         = VALUES(title),
  country_code  = VALUES(country_code),
  bedroom_count = VALUES(bedroom_count),
  review_score  = VALUES(review_score),
  usd_rate      = VALUES(usd_rate),
  center        = VALUES(center),
  images        = VALUES(images),
  amenities     = VALUES(amenities),
  location_id   = VALUES(location_id),
  user_id       = COALESCE(VALUES(user_id), user_id),
  published     = VALUES(published),
  updated_at    = CURRENT_TIMESTAMP(6)
`

const shareLocationSQL = `SELECT 1 FROM locations WHERE id = ? FOR SHARE`
const shareUserSQL = `SELECT 1 FROM users WHERE id = ? FOR SHARE`
const shareAccommodationSQL = `SELECT 1 FROM accommodations WHERE id = ? AND feed = ? FOR SHARE`

const selectAccommodationCols = `
SELECT id, feed, title, country_code, bedroom_count,
       CAST(review_score AS CHAR), CAST(usd_rate AS CHAR),
       ST_X(center), ST_Y(center), images, amenities,
       location_id, user_id, published, created_at, updated_at
FROM accommodations
`

const getAccommodationSQL = selectAccommodationCols + `WHERE id = ? AND feed = ?`

const deleteLocalizationsOfSQL = `DELETE FROM accommodation_localizations WHERE property_id = ? AND feed = ?`
const deleteAccommodationSQL = `DELETE FROM accommodations WHERE id = ? AND feed = ?`

// -----------------------------------------------------------------------------
// LOCALIZATIONS
// -----------------------------------------------------------------------------

const upsertLocalizationSQL = `
INSERT INTO accommodation_localizations
  (property_id, feed, language, description, policy)
VALUES
  (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  description = VALUES(description),
  policy      = VALUES(policy),
  updated_at  = CURRENT_TIMESTAMP(6)
`

const selectLocalizationCols = `
SELECT id, property_id, feed, language, description, policy, created_at, updated_at
FROM accommodation_localizations
`

const getLocalizationSQL = selectLocalizationCols + `WHERE property_id = ? AND feed = ? AND language = ?`

const listLocalizationsSQL = selectLocalizationCols + `WHERE property_id = ? AND feed = ? ORDER BY language`

// -----------------------------------------------------------------------------
// ACCOUNTS
// -----------------------------------------------------------------------------

const insertUserSQL = `
INSERT INTO users (username, email, password_hash, is_superuser, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP(6)))
`

const selectUserCols = `SELECT id, username, email, password_hash, is_superuser, created_at FROM users `

const getUserSQL = selectUserCols + `WHERE id = ?`
const getUserByNameSQL = selectUserCols + `WHERE username = ?`

const userRolesSQL = `
SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = ? ORDER BY r.name
`

const userPermissionsSQL = `
SELECT DISTINCT rp.codename FROM user_roles ur JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.user_id = ? ORDER BY rp.codename
`

const roleIDSQL = `SELECT id FROM roles WHERE name = ?`
const lockRoleSQL = `SELECT id FROM roles WHERE name = ? FOR UPDATE`
const insertRoleSQL = `INSERT INTO roles (name) VALUES (?)`
const insertUserRoleSQL = `INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`
const clearRolePermsSQL = `DELETE FROM role_permissions WHERE role_id = ?`
const insertRolePermSQL = `INSERT IGNORE INTO role_permissions (role_id, codename) VALUES (?, ?)`
const rolePermsSQL = `SELECT codename FROM role_permissions WHERE role_id = ? ORDER BY codename`

// -----------------------------------------------------------------------------
// MISC
// -----------------------------------------------------------------------------

const insertMissSQL = `
INSERT INTO ingest_misses (feed, id, reason, http_status)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE http_status = VALUES(http_status), seen_at = CURRENT_TIMESTAMP(6)
`

const selectPartitionsSQL = `
SELECT PARTITION_DESCRIPTION FROM information_schema.PARTITIONS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND PARTITION_NAME IS NOT NULL
ORDER BY PARTITION_ORDINAL_POSITION
`
