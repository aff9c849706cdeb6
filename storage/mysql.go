package storage

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
)

// schema (logical, spec §4.2):
//
//   collections(user_id, collection_id, name)
//   user_collections(user_id, collection_id, last_modified, count)
//   bso(user_id, collection_id, id, modified, sortindex, ttl_expire_at,
//       payload, payload_size)

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied DATETIME)`,
}

var mysqlMigrations = []migration.Migrator{mysqlSchema1}

func mysqlSchema1(tx migration.LimitedTx) error {
	return execList(tx, []string{
		`CREATE TABLE IF NOT EXISTS collections (
			user_id BIGINT NOT NULL,
			collection_id BIGINT NOT NULL,
			name VARCHAR(64) NOT NULL,
			PRIMARY KEY (user_id, collection_id),
			UNIQUE KEY uniq_collections_name (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS user_collections (
			user_id BIGINT NOT NULL,
			collection_id BIGINT NOT NULL,
			last_modified BIGINT NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, collection_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bso (
			user_id BIGINT NOT NULL,
			collection_id BIGINT NOT NULL,
			id VARCHAR(64) NOT NULL,
			modified BIGINT NOT NULL,
			sortindex BIGINT NULL,
			ttl_expire_at BIGINT NULL,
			payload LONGTEXT NOT NULL,
			payload_size BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, collection_id, id),
			KEY idx_bso_modified (user_id, collection_id, modified),
			KEY idx_bso_sortindex (user_id, collection_id, sortindex)
		)`,
	})
}

// mysqlShard holds one physical database's connection pool and a bounded gate
// on top of it, mirroring spec §5's "database connection pools are per
// shard and bounded".
type mysqlShard struct {
	db *sql.DB
	g  gate
}

// MySQLBackend is the production reference implementation of Backend.
type MySQLBackend struct {
	shards []mysqlShard

	mu           sync.Mutex
	reservedByID map[int64]string
	byName       map[string]int64 // "userID:name" -> collection_id, in-process cache
}

// NewMySQLBackend opens one connection pool per DSN in dsns, running
// migrations on each, and returns a Backend that shards users across them
// by user_id mod len(dsns).
func NewMySQLBackend(dsns []string, maxConnsPerShard int) (*MySQLBackend, error) {
	if len(dsns) == 0 {
		return nil, errors.New("storage: no shard DSNs configured")
	}
	b := &MySQLBackend{
		reservedByID: make(map[int64]string, len(bso.StandardCollectionName)),
		byName:       make(map[string]int64),
	}
	for id, name := range bso.StandardCollectionName {
		b.reservedByID[id] = name
	}
	for _, dsn := range dsns {
		db, err := migration.OpenWith("mysql", dsn, mysqlMigrations, mysqlVersioning.Get, mysqlVersioning.Set)
		if err != nil {
			return nil, errors.Wrapf(err, "storage: opening shard %q", dsn)
		}
		if maxConnsPerShard > 0 {
			db.SetMaxOpenConns(maxConnsPerShard)
		}
		b.shards = append(b.shards, mysqlShard{db: db, g: newGate(maxConnsPerShard)})
	}
	return b, nil
}

func (b *MySQLBackend) shard(userID int64) mysqlShard {
	return b.shards[shardFor(userID, len(b.shards))]
}

// Close closes every shard's connection pool.
func (b *MySQLBackend) Close() error {
	var first error
	for _, s := range b.shards {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (b *MySQLBackend) CollectionID(userID int64, name string, create bool) (int64, bool, error) {
	if id, ok := bso.StandardCollections[name]; ok {
		return id, false, nil
	}
	cacheKey := fmt.Sprintf("%d:%s", userID, name)
	b.mu.Lock()
	if id, ok := b.byName[cacheKey]; ok {
		b.mu.Unlock()
		return id, false, nil
	}
	b.mu.Unlock()

	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	var id int64
	err := s.db.QueryRow(`SELECT collection_id FROM collections WHERE user_id = ? AND name = ?`, userID, name).Scan(&id)
	if err == nil {
		b.cacheCollection(cacheKey, id)
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, errors.Wrap(err, "storage: collection lookup")
	}
	if !create {
		return 0, false, ErrNotFound
	}

	var maxID int64
	row := s.db.QueryRow(`SELECT COALESCE(MAX(collection_id), ?) FROM collections WHERE user_id = ?`, bso.FirstCustomCollectionID-1, userID)
	if err := row.Scan(&maxID); err != nil {
		return 0, false, errors.Wrap(err, "storage: allocating collection id")
	}
	newID := maxID + 1
	if newID < bso.FirstCustomCollectionID {
		newID = bso.FirstCustomCollectionID
	}
	_, err = s.db.Exec(`INSERT INTO collections (user_id, collection_id, name) VALUES (?, ?, ?)`, userID, newID, name)
	if err != nil {
		// lost a race with a concurrent creator; read back what they made.
		var existing int64
		if err2 := s.db.QueryRow(`SELECT collection_id FROM collections WHERE user_id = ? AND name = ?`, userID, name).Scan(&existing); err2 == nil {
			b.cacheCollection(cacheKey, existing)
			return existing, false, nil
		}
		return 0, false, errors.Wrap(err, "storage: creating collection")
	}
	b.cacheCollection(cacheKey, newID)
	return newID, true, nil
}

func (b *MySQLBackend) cacheCollection(key string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.byName) > 100000 {
		// Refuse to grow without bound; the database remains authoritative.
		log.Println("storage: collection name cache full, not caching further entries")
		return
	}
	b.byName[key] = id
}

func (b *MySQLBackend) collectionName(userID, id int64) (string, error) {
	if name, ok := b.reservedByID[id]; ok {
		return name, nil
	}
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()
	var name string
	err := s.db.QueryRow(`SELECT name FROM collections WHERE user_id = ? AND collection_id = ?`, userID, id).Scan(&name)
	if err != nil {
		return "", errors.Wrap(err, "storage: collection name lookup")
	}
	return name, nil
}

func (b *MySQLBackend) CollectionTimestamps(userID int64) (map[string]clock.Timestamp, error) {
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	rows, err := s.db.Query(`SELECT collection_id, last_modified FROM user_collections WHERE user_id = ?`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: collection timestamps")
	}
	defer rows.Close()

	out := make(map[string]clock.Timestamp)
	for rows.Next() {
		var id int64
		var modified int64
		if err := rows.Scan(&id, &modified); err != nil {
			return nil, err
		}
		name, err := b.collectionName(userID, id)
		if err != nil {
			continue
		}
		out[name] = clock.Timestamp(modified)
	}
	return out, rows.Err()
}

func (b *MySQLBackend) CollectionCounts(userID int64) (map[string]int64, error) {
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	rows, err := s.db.Query(`SELECT collection_id, count FROM user_collections WHERE user_id = ? AND count > 0`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: collection counts")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id, count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		name, err := b.collectionName(userID, id)
		if err != nil {
			continue
		}
		out[name] = count
	}
	return out, rows.Err()
}

func (b *MySQLBackend) CollectionUsage(userID int64) (map[string]int64, error) {
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	rows, err := s.db.Query(`
		SELECT collection_id, COALESCE(SUM(payload_size), 0)
		FROM bso
		WHERE user_id = ? AND (ttl_expire_at IS NULL OR ttl_expire_at > ?)
		GROUP BY collection_id`, userID, clock.Now())
	if err != nil {
		return nil, errors.Wrap(err, "storage: collection usage")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id, size int64
		if err := rows.Scan(&id, &size); err != nil {
			return nil, err
		}
		name, err := b.collectionName(userID, id)
		if err != nil {
			continue
		}
		out[name] = size / 1024
	}
	return out, rows.Err()
}

func (b *MySQLBackend) TotalUsage(userID int64) (int64, error) {
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()
	var size int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(payload_size), 0) FROM bso
		WHERE user_id = ? AND (ttl_expire_at IS NULL OR ttl_expire_at > ?)`, userID, clock.Now()).Scan(&size)
	if err != nil {
		return 0, errors.Wrap(err, "storage: total usage")
	}
	return size, nil
}

func (b *MySQLBackend) CollectionLastModified(userID int64, collection string) (clock.Timestamp, bool, error) {
	id, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()
	var modified int64
	err = s.db.QueryRow(`SELECT last_modified FROM user_collections WHERE user_id = ? AND collection_id = ?`, userID, id).Scan(&modified)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "storage: collection last_modified")
	}
	return clock.Timestamp(modified), true, nil
}

func (b *MySQLBackend) GetBSO(userID int64, collection string, id string) (*bso.BSO, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	row := s.db.QueryRow(`
		SELECT id, modified, sortindex, payload, ttl_expire_at
		FROM bso
		WHERE user_id = ? AND collection_id = ? AND id = ?
			AND (ttl_expire_at IS NULL OR ttl_expire_at > ?)`,
		userID, collID, id, clock.Now())
	item, err := scanBSO(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get bso")
	}
	return item, nil
}

// scanRow is satisfied by both *sql.Row and *sql.Rows.
type scanRow interface {
	Scan(dest ...interface{}) error
}

func scanBSO(row scanRow) (*bso.BSO, error) {
	var id string
	var modified int64
	var sortindex sql.NullInt64
	var payload string
	var ttlExpireAt sql.NullInt64
	if err := row.Scan(&id, &modified, &sortindex, &payload, &ttlExpireAt); err != nil {
		return nil, err
	}
	item := &bso.BSO{
		ID:       id,
		Modified: clock.Timestamp(modified).Seconds(),
		Payload:  &payload,
	}
	if sortindex.Valid {
		item.SortIndex = &sortindex.Int64
	}
	if ttlExpireAt.Valid {
		ttl := (ttlExpireAt.Int64 - modified) / 100
		item.TTL = &ttl
	}
	return item, nil
}

func (b *MySQLBackend) GetBSOs(userID int64, collection string, q Query) ([]*bso.BSO, string, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	where := []string{"user_id = ?", "collection_id = ?", "(ttl_expire_at IS NULL OR ttl_expire_at > ?)"}
	args := []interface{}{userID, collID, clock.Now()}

	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if q.Newer != nil {
		where = append(where, "modified > ?")
		args = append(args, int64(*q.Newer))
	}
	if q.Older != nil {
		where = append(where, "modified < ?")
		args = append(args, int64(*q.Older))
	}

	sortCol, sortDir := sortColumns(q.Sort)

	off, err := decodeOffset(q.Offset)
	if err != nil {
		return nil, "", err
	}
	if !off.empty() {
		key, kerr := off.sortKeyInt()
		if kerr != nil {
			return nil, "", kerr
		}
		cmp := ">"
		if sortDir == "ASC" {
			cmp = ">"
		} else {
			cmp = "<"
		}
		where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND id > ?))", sortCol, cmp, sortCol))
		args = append(args, key, key, off.id)
	}

	query := fmt.Sprintf(`
		SELECT id, modified, sortindex, payload, ttl_expire_at
		FROM bso
		WHERE %s
		ORDER BY %s %s, id ASC`, strings.Join(where, " AND "), sortCol, sortDir)

	fetchLimit := q.Limit
	if fetchLimit > 0 {
		query += " LIMIT ?"
		args = append(args, fetchLimit+1)
	}

	s := b.shard(userID)
	s.g.enter()
	rows, err := s.db.Query(query, args...)
	s.g.leave()
	if err != nil {
		return nil, "", errors.Wrap(err, "storage: get bsos")
	}
	defer rows.Close()

	var items []*bso.BSO
	for rows.Next() {
		item, err := scanBSO(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if fetchLimit > 0 && len(items) > fetchLimit {
		last := items[fetchLimit-1]
		items = items[:fetchLimit]
		next = nextOffsetFor(sortCol, last)
	}
	return items, next, nil
}

func sortColumns(sort string) (col, dir string) {
	switch sort {
	case SortOldest:
		return "modified", "ASC"
	case SortIndex:
		return "sortindex", "DESC"
	default: // SortNewest and unspecified default to newest-first
		return "modified", "DESC"
	}
}

func nextOffsetFor(sortCol string, item *bso.BSO) string {
	var key int64
	switch sortCol {
	case "sortindex":
		if item.SortIndex != nil {
			key = *item.SortIndex
		}
	default:
		key = int64(item.Modified * 100)
	}
	return encodeOffset(key, item.ID)
}

func (b *MySQLBackend) ApplyBatch(userID int64, collection string, items []*bso.BSO, timestamp clock.Timestamp, pre Precondition, limits bso.Limits) (*BatchResult, error) {
	collID, _, err := b.CollectionID(userID, collection, true)
	if err != nil {
		return nil, err
	}

	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	currentModified, _, err := txCollectionLastModified(tx, userID, collID)
	if err != nil {
		return nil, err
	}
	if pre.IfUnmodifiedSince != nil && currentModified > *pre.IfUnmodifiedSince {
		return nil, ErrPreconditionFailed
	}

	result := &BatchResult{Failed: make(map[string][]string), LastModified: currentModified}

	var payloadDelta int64
	type pending struct {
		item *bso.BSO
	}
	var toApply []pending
	for _, item := range items {
		if err := item.Validate(limits); err != nil {
			result.Failed[item.ID] = append(result.Failed[item.ID], err.Error())
			continue
		}
		if item.Payload != nil {
			payloadDelta += int64(item.PayloadSize())
		}
		toApply = append(toApply, pending{item: item})
	}

	if pre.QuotaKB > 0 && payloadDelta > 0 {
		var used int64
		err := tx.QueryRow(`SELECT COALESCE(SUM(payload_size), 0) FROM bso WHERE user_id = ? AND (ttl_expire_at IS NULL OR ttl_expire_at > ?)`, userID, int64(timestamp)).Scan(&used)
		if err != nil {
			return nil, errors.Wrap(err, "storage: quota check")
		}
		if (used+payloadDelta)/1024 > pre.QuotaKB {
			return nil, ErrOverQuota
		}
	}

	for _, p := range toApply {
		item := p.item
		changed, err := txUpsertBSO(tx, userID, collID, item, timestamp)
		if err != nil {
			result.Failed[item.ID] = append(result.Failed[item.ID], "database error")
			continue
		}
		result.Success = append(result.Success, item.ID)
		if changed {
			result.Changed = true
		}
	}

	if result.Changed {
		count, err := txCollectionCount(tx, userID, collID, timestamp)
		if err != nil {
			return nil, err
		}
		if err := txSetCollectionTimestamp(tx, userID, collID, timestamp, count); err != nil {
			return nil, err
		}
		result.LastModified = timestamp
		result.Count = count
	} else {
		result.Count, _ = txCollectionCountOnly(tx, userID, collID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "storage: commit")
	}
	committed = true
	return result, nil
}

func txCollectionLastModified(tx *sql.Tx, userID, collID int64) (clock.Timestamp, bool, error) {
	var modified int64
	err := tx.QueryRow(`SELECT last_modified FROM user_collections WHERE user_id = ? AND collection_id = ?`, userID, collID).Scan(&modified)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "storage: tx last_modified")
	}
	return clock.Timestamp(modified), true, nil
}

func txCollectionCount(tx *sql.Tx, userID, collID int64, now clock.Timestamp) (int64, error) {
	var count int64
	err := tx.QueryRow(`SELECT COUNT(*) FROM bso WHERE user_id = ? AND collection_id = ? AND (ttl_expire_at IS NULL OR ttl_expire_at > ?)`, userID, collID, int64(now)).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "storage: tx count")
	}
	return count, nil
}

func txCollectionCountOnly(tx *sql.Tx, userID, collID int64) (int64, error) {
	var count int64
	err := tx.QueryRow(`SELECT count FROM user_collections WHERE user_id = ? AND collection_id = ?`, userID, collID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func txSetCollectionTimestamp(tx *sql.Tx, userID, collID int64, modified clock.Timestamp, count int64) error {
	_, err := tx.Exec(`
		INSERT INTO user_collections (user_id, collection_id, last_modified, count)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_modified = ?, count = ?`,
		userID, collID, int64(modified), count, int64(modified), count)
	return err
}

// txUpsertBSO inserts or updates one row. Returns changed=true if modified
// was bumped (i.e. this was not a no-op metadata update), per spec §4.2:
// "A BSO whose body omits payload is treated as a metadata-only update and
// does NOT refresh modified unless sortindex or ttl is present and
// actually changes."
func txUpsertBSO(tx *sql.Tx, userID, collID int64, item *bso.BSO, timestamp clock.Timestamp) (bool, error) {
	var exists bool
	var curSortIndex sql.NullInt64
	var curTTLExpire sql.NullInt64
	err := tx.QueryRow(`SELECT sortindex, ttl_expire_at FROM bso WHERE user_id = ? AND collection_id = ? AND id = ?`,
		userID, collID, item.ID).Scan(&curSortIndex, &curTTLExpire)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		return false, err
	}

	var newTTLExpire *int64
	if item.TTL != nil {
		v := int64(timestamp) + (*item.TTL)*100
		newTTLExpire = &v
	}

	if !exists {
		payload := ""
		if item.Payload != nil {
			payload = *item.Payload
		}
		_, err := tx.Exec(`
			INSERT INTO bso (user_id, collection_id, id, modified, sortindex, ttl_expire_at, payload, payload_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, collID, item.ID, int64(timestamp), item.SortIndex, newTTLExpire, payload, int64(len(payload)))
		if err != nil {
			return false, err
		}
		return true, nil
	}

	changesModified := item.Payload != nil
	if !changesModified && item.SortIndex != nil {
		changesModified = !curSortIndex.Valid || curSortIndex.Int64 != *item.SortIndex
	}
	if !changesModified && newTTLExpire != nil {
		changesModified = !curTTLExpire.Valid || curTTLExpire.Int64 != *newTTLExpire
	}

	sets := []string{}
	args := []interface{}{}
	if item.Payload != nil {
		sets = append(sets, "payload = ?", "payload_size = ?")
		args = append(args, *item.Payload, int64(len(*item.Payload)))
	}
	if item.SortIndex != nil {
		sets = append(sets, "sortindex = ?")
		args = append(args, *item.SortIndex)
	}
	if newTTLExpire != nil {
		sets = append(sets, "ttl_expire_at = ?")
		args = append(args, *newTTLExpire)
	}
	if changesModified {
		sets = append(sets, "modified = ?")
		args = append(args, int64(timestamp))
	}
	if len(sets) == 0 {
		return false, nil
	}
	args = append(args, userID, collID, item.ID)
	_, err = tx.Exec(fmt.Sprintf(`UPDATE bso SET %s WHERE user_id = ? AND collection_id = ? AND id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return false, err
	}
	return changesModified, nil
}

func (b *MySQLBackend) DeleteItem(userID int64, collection string, id string, timestamp clock.Timestamp, pre Precondition) (*DeleteResult, error) {
	return b.deleteByQuery(userID, collection, Query{IDs: []string{id}}, timestamp, pre, true)
}

func (b *MySQLBackend) DeleteItems(userID int64, collection string, q Query, timestamp clock.Timestamp, pre Precondition) (*DeleteResult, error) {
	return b.deleteByQuery(userID, collection, q, timestamp, pre, false)
}

func (b *MySQLBackend) deleteByQuery(userID int64, collection string, q Query, timestamp clock.Timestamp, pre Precondition, mustExist bool) (*DeleteResult, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		if mustExist {
			return nil, ErrNotFound
		}
		return &DeleteResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	currentModified, _, err := txCollectionLastModified(tx, userID, collID)
	if err != nil {
		return nil, err
	}
	if pre.IfUnmodifiedSince != nil && currentModified > *pre.IfUnmodifiedSince {
		return nil, ErrPreconditionFailed
	}

	where, args := buildDeleteWhere(userID, collID, q)
	rows, err := tx.Query(`SELECT id FROM bso WHERE `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: delete select")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if mustExist && len(ids) == 0 {
		return nil, ErrNotFound
	}

	result := &DeleteResult{Deleted: ids, LastModified: currentModified}
	if len(ids) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		result.Count, _ = txCollectionCountOnly(tx, userID, collID)
		return result, nil
	}

	if _, err := tx.Exec(`DELETE FROM bso WHERE `+where, args...); err != nil {
		return nil, errors.Wrap(err, "storage: delete exec")
	}

	remaining, err := txCollectionCount(tx, userID, collID, timestamp)
	if err != nil {
		return nil, err
	}
	if err := txSetCollectionTimestamp(tx, userID, collID, timestamp, remaining); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "storage: commit")
	}
	committed = true
	result.LastModified = timestamp
	result.Count = remaining
	return result, nil
}

func buildDeleteWhere(userID, collID int64, q Query) (string, []interface{}) {
	where := []string{"user_id = ?", "collection_id = ?"}
	args := []interface{}{userID, collID}
	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if q.Newer != nil {
		where = append(where, "modified > ?")
		args = append(args, int64(*q.Newer))
	}
	if q.Older != nil {
		where = append(where, "modified < ?")
		args = append(args, int64(*q.Older))
	}
	return strings.Join(where, " AND "), args
}

func (b *MySQLBackend) DeleteCollection(userID int64, collection string, timestamp clock.Timestamp) (clock.Timestamp, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`DELETE FROM bso WHERE user_id = ? AND collection_id = ?`, userID, collID); err != nil {
		return 0, errors.Wrap(err, "storage: delete collection")
	}
	if err := txSetCollectionTimestamp(tx, userID, collID, timestamp, 0); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "storage: commit")
	}
	committed = true
	return timestamp, nil
}

func (b *MySQLBackend) DeleteUser(userID int64) error {
	s := b.shard(userID)
	s.g.enter()
	defer s.g.leave()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	stmts := []string{
		`DELETE FROM bso WHERE user_id = ?`,
		`DELETE FROM user_collections WHERE user_id = ?`,
		`DELETE FROM collections WHERE user_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, userID); err != nil {
			return errors.Wrap(err, "storage: delete user")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit")
	}
	committed = true

	b.mu.Lock()
	for key := range b.byName {
		if strings.HasPrefix(key, fmt.Sprintf("%d:", userID)) {
			delete(b.byName, key)
		}
	}
	b.mu.Unlock()
	return nil
}

var _ Backend = (*MySQLBackend)(nil)
