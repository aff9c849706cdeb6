package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/migration"
	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"

	"github.com/weaveserver/syncstorage/bso"
	"github.com/weaveserver/syncstorage/clock"
)

// QLBackend is the embedded-database twin of MySQLBackend, intended only
// for local development and tests (no shard splitting: it is always a
// single file, or "memory" for an in-process database).
//
// QL's SQL dialect differs from MySQL's in a few ways that matter here:
// placeholders are positional (?1, ?2, ...) rather than bare ?, there is
// no ON DUPLICATE KEY UPDATE, and schema types use QL's own names (string,
// int64, blob).
type QLBackend struct {
	db *sql.DB
	g  gate

	mu           sync.Mutex
	reservedByID map[int64]string
	byName       map[string]int64
}

var qlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version VALUES (?1, now())`,
	CreateSQL: `CREATE TABLE migration_version (version int64, applied time)`,
}

var qlMigrations = []migration.Migrator{qlSchema1}

func qlSchema1(tx migration.LimitedTx) error {
	return execList(tx, []string{
		`CREATE TABLE IF NOT EXISTS collections (
			user_id int64,
			collection_id int64,
			name string
		)`,
		`CREATE INDEX IF NOT EXISTS collections_user ON collections (user_id)`,
		`CREATE TABLE IF NOT EXISTS user_collections (
			user_id int64,
			collection_id int64,
			last_modified int64,
			count int64
		)`,
		`CREATE INDEX IF NOT EXISTS user_collections_user ON user_collections (user_id)`,
		`CREATE TABLE IF NOT EXISTS bso (
			user_id int64,
			collection_id int64,
			id string,
			modified int64,
			sortindex int64,
			ttl_expire_at int64,
			payload string,
			payload_size int64
		)`,
		`CREATE INDEX IF NOT EXISTS bso_lookup ON bso (user_id)`,
	})
}

// NewQLBackend opens filename ("memory" for an in-process database) and
// runs migrations against it. It is always a single shard.
func NewQLBackend(filename string) (*QLBackend, error) {
	driver, dsn := "ql", filename
	if filename == "memory" {
		driver, dsn = "ql-mem", "mem.db"
	}
	db, err := migration.OpenWith(driver, dsn, qlMigrations, qlVersioning.Get, qlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening ql database")
	}
	b := &QLBackend{
		db:           db,
		g:            newGate(1),
		reservedByID: make(map[int64]string, len(bso.StandardCollectionName)),
		byName:       make(map[string]int64),
	}
	for id, name := range bso.StandardCollectionName {
		b.reservedByID[id] = name
	}
	return b, nil
}

func (b *QLBackend) Close() error { return b.db.Close() }

func (b *QLBackend) CollectionID(userID int64, name string, create bool) (int64, bool, error) {
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

	b.g.enter()
	defer b.g.leave()

	var id int64
	err := b.db.QueryRow(`SELECT collection_id FROM collections WHERE user_id == ?1 AND name == ?2`, userID, name).Scan(&id)
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

	tx, err := b.db.Begin()
	if err != nil {
		return 0, false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var maxID sql.NullInt64
	if err := tx.QueryRow(`SELECT max(collection_id) FROM collections WHERE user_id == ?1`, userID).Scan(&maxID); err != nil {
		return 0, false, errors.Wrap(err, "storage: allocating collection id")
	}
	var newID int64 = bso.FirstCustomCollectionID
	if maxID.Valid && maxID.Int64+1 > newID {
		newID = maxID.Int64 + 1
	}
	if _, err := tx.Exec(`INSERT INTO collections VALUES (?1, ?2, ?3)`, userID, newID, name); err != nil {
		return 0, false, errors.Wrap(err, "storage: creating collection")
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	committed = true
	b.cacheCollection(cacheKey, newID)
	return newID, true, nil
}

func (b *QLBackend) cacheCollection(key string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[key] = id
}

func (b *QLBackend) collectionName(userID, id int64) (string, error) {
	if name, ok := b.reservedByID[id]; ok {
		return name, nil
	}
	b.g.enter()
	defer b.g.leave()
	var name string
	err := b.db.QueryRow(`SELECT name FROM collections WHERE user_id == ?1 AND collection_id == ?2`, userID, id).Scan(&name)
	if err != nil {
		return "", errors.Wrap(err, "storage: collection name lookup")
	}
	return name, nil
}

func (b *QLBackend) CollectionTimestamps(userID int64) (map[string]clock.Timestamp, error) {
	b.g.enter()
	defer b.g.leave()
	rows, err := b.db.Query(`SELECT collection_id, last_modified FROM user_collections WHERE user_id == ?1`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: collection timestamps")
	}
	defer rows.Close()

	out := make(map[string]clock.Timestamp)
	for rows.Next() {
		var id, modified int64
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

func (b *QLBackend) CollectionCounts(userID int64) (map[string]int64, error) {
	b.g.enter()
	defer b.g.leave()
	rows, err := b.db.Query(`SELECT collection_id, count FROM user_collections WHERE user_id == ?1 AND count > 0`, userID)
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

func (b *QLBackend) CollectionUsage(userID int64) (map[string]int64, error) {
	b.g.enter()
	defer b.g.leave()
	rows, err := b.db.Query(`
		SELECT collection_id, payload_size FROM bso
		WHERE user_id == ?1 && (ttl_expire_at == 0 || ttl_expire_at > ?2)`, userID, int64(clock.Now()))
	if err != nil {
		return nil, errors.Wrap(err, "storage: collection usage")
	}
	defer rows.Close()

	totals := make(map[int64]int64)
	for rows.Next() {
		var id, size int64
		if err := rows.Scan(&id, &size); err != nil {
			return nil, err
		}
		totals[id] += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for id, size := range totals {
		name, err := b.collectionName(userID, id)
		if err != nil {
			continue
		}
		out[name] = size / 1024
	}
	return out, nil
}

func (b *QLBackend) TotalUsage(userID int64) (int64, error) {
	b.g.enter()
	defer b.g.leave()
	rows, err := b.db.Query(`
		SELECT payload_size FROM bso
		WHERE user_id == ?1 && (ttl_expire_at == 0 || ttl_expire_at > ?2)`, userID, int64(clock.Now()))
	if err != nil {
		return 0, errors.Wrap(err, "storage: total usage")
	}
	defer rows.Close()
	var total int64
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return 0, err
		}
		total += size
	}
	return total, rows.Err()
}

func (b *QLBackend) CollectionLastModified(userID int64, collection string) (clock.Timestamp, bool, error) {
	id, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	b.g.enter()
	defer b.g.leave()
	var modified int64
	err = b.db.QueryRow(`SELECT last_modified FROM user_collections WHERE user_id == ?1 AND collection_id == ?2`, userID, id).Scan(&modified)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "storage: collection last_modified")
	}
	return clock.Timestamp(modified), true, nil
}

func (b *QLBackend) GetBSO(userID int64, collection string, id string) (*bso.BSO, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.g.enter()
	defer b.g.leave()

	row := b.db.QueryRow(`
		SELECT id, modified, sortindex, payload, ttl_expire_at
		FROM bso
		WHERE user_id == ?1 AND collection_id == ?2 AND id == ?3
			AND (ttl_expire_at == 0 || ttl_expire_at > ?4)`,
		userID, collID, id, int64(clock.Now()))
	item, err := scanQLBSO(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get bso")
	}
	return item, nil
}

// scanQLBSO mirrors scanBSO but treats ttl_expire_at == 0 as NULL, since
// QL's int64 columns are never null in these tables (ql stores 0 for
// unset values written by the driver's interface{} conversion).
func scanQLBSO(row scanRow) (*bso.BSO, error) {
	var id string
	var modified, sortindex, ttlExpireAt int64
	var payload string
	if err := row.Scan(&id, &modified, &sortindex, &payload, &ttlExpireAt); err != nil {
		return nil, err
	}
	item := &bso.BSO{
		ID:       id,
		Modified: clock.Timestamp(modified).Seconds(),
		Payload:  &payload,
	}
	if sortindex != 0 {
		item.SortIndex = &sortindex
	}
	if ttlExpireAt != 0 {
		ttl := (ttlExpireAt - modified) / 100
		item.TTL = &ttl
	}
	return item, nil
}

func (b *QLBackend) GetBSOs(userID int64, collection string, q Query) ([]*bso.BSO, string, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	where := []string{"user_id == ?1", "collection_id == ?2", "(ttl_expire_at == 0 || ttl_expire_at > ?3)"}
	args := []interface{}{userID, collID, int64(clock.Now())}
	n := 3

	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			n++
			placeholders[i] = fmt.Sprintf("?%d", n)
			args = append(args, id)
		}
		where = append(where, "id in ("+strings.Join(placeholders, ",")+")")
	}
	if q.Newer != nil {
		n++
		where = append(where, fmt.Sprintf("modified > ?%d", n))
		args = append(args, int64(*q.Newer))
	}
	if q.Older != nil {
		n++
		where = append(where, fmt.Sprintf("modified < ?%d", n))
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
		if sortDir == "DESC" {
			cmp = "<"
		}
		n++
		gtPH := n
		n++
		eqPH := n
		n++
		idPH := n
		where = append(where, fmt.Sprintf("(%s %s ?%d || (%s == ?%d && id > ?%d))", sortCol, cmp, gtPH, sortCol, eqPH, idPH))
		args = append(args, key, key, off.id)
	}

	order := "desc"
	if sortDir == "ASC" {
		order = "asc"
	}

	query := fmt.Sprintf(`
		SELECT id, modified, sortindex, payload, ttl_expire_at
		FROM bso
		WHERE %s
		ORDER BY %s %s, id asc`, strings.Join(where, " && "), sortCol, order)

	fetchLimit := q.Limit
	if fetchLimit > 0 {
		query += fmt.Sprintf(" LIMIT %d", fetchLimit+1)
	}

	b.g.enter()
	rows, err := b.db.Query(query, args...)
	b.g.leave()
	if err != nil {
		return nil, "", errors.Wrap(err, "storage: get bsos")
	}
	defer rows.Close()

	var items []*bso.BSO
	for rows.Next() {
		item, err := scanQLBSO(rows)
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

func (b *QLBackend) ApplyBatch(userID int64, collection string, items []*bso.BSO, timestamp clock.Timestamp, pre Precondition, limits bso.Limits) (*BatchResult, error) {
	collID, _, err := b.CollectionID(userID, collection, true)
	if err != nil {
		return nil, err
	}

	b.g.enter()
	defer b.g.leave()

	tx, err := b.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var currentModified int64
	err = tx.QueryRow(`SELECT last_modified FROM user_collections WHERE user_id == ?1 AND collection_id == ?2`, userID, collID).Scan(&currentModified)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "storage: tx last_modified")
	}
	if pre.IfUnmodifiedSince != nil && clock.Timestamp(currentModified) > *pre.IfUnmodifiedSince {
		return nil, ErrPreconditionFailed
	}

	result := &BatchResult{Failed: make(map[string][]string), LastModified: clock.Timestamp(currentModified)}

	var payloadDelta int64
	var toApply []*bso.BSO
	for _, item := range items {
		if err := item.Validate(limits); err != nil {
			result.Failed[item.ID] = append(result.Failed[item.ID], err.Error())
			continue
		}
		if item.Payload != nil {
			payloadDelta += int64(item.PayloadSize())
		}
		toApply = append(toApply, item)
	}

	if pre.QuotaKB > 0 && payloadDelta > 0 {
		var used int64
		rows, err := tx.Query(`SELECT payload_size FROM bso WHERE user_id == ?1 AND (ttl_expire_at == 0 || ttl_expire_at > ?2)`, userID, int64(timestamp))
		if err != nil {
			return nil, errors.Wrap(err, "storage: quota check")
		}
		for rows.Next() {
			var size int64
			if err := rows.Scan(&size); err != nil {
				rows.Close()
				return nil, err
			}
			used += size
		}
		rows.Close()
		if (used+payloadDelta)/1024 > pre.QuotaKB {
			return nil, ErrOverQuota
		}
	}

	for _, item := range toApply {
		changed, err := qlUpsertBSO(tx, userID, collID, item, timestamp)
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
		var count int64
		if err := tx.QueryRow(`SELECT count(*) FROM bso WHERE user_id == ?1 AND collection_id == ?2 AND (ttl_expire_at == 0 || ttl_expire_at > ?3)`, userID, collID, int64(timestamp)).Scan(&count); err != nil {
			return nil, err
		}
		if err := qlSetCollectionTimestamp(tx, userID, collID, timestamp, count); err != nil {
			return nil, err
		}
		result.LastModified = timestamp
		result.Count = count
	} else {
		tx.QueryRow(`SELECT count FROM user_collections WHERE user_id == ?1 AND collection_id == ?2`, userID, collID).Scan(&result.Count)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "storage: commit")
	}
	committed = true
	return result, nil
}

func qlSetCollectionTimestamp(tx *sql.Tx, userID, collID int64, modified clock.Timestamp, count int64) error {
	res, err := tx.Exec(`UPDATE user_collections SET last_modified = ?1, count = ?2 WHERE user_id == ?3 AND collection_id == ?4`,
		int64(modified), count, userID, collID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.Exec(`INSERT INTO user_collections VALUES (?1, ?2, ?3, ?4)`, userID, collID, int64(modified), count)
	return err
}

func qlUpsertBSO(tx *sql.Tx, userID, collID int64, item *bso.BSO, timestamp clock.Timestamp) (bool, error) {
	var exists bool
	var curSortIndex, curTTLExpire int64
	err := tx.QueryRow(`SELECT sortindex, ttl_expire_at FROM bso WHERE user_id == ?1 AND collection_id == ?2 AND id == ?3`,
		userID, collID, item.ID).Scan(&curSortIndex, &curTTLExpire)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		return false, err
	}

	var newTTLExpire int64
	if item.TTL != nil {
		newTTLExpire = int64(timestamp) + (*item.TTL)*100
	}

	if !exists {
		payload := ""
		if item.Payload != nil {
			payload = *item.Payload
		}
		var sortindex int64
		if item.SortIndex != nil {
			sortindex = *item.SortIndex
		}
		_, err := tx.Exec(`INSERT INTO bso VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`,
			userID, collID, item.ID, int64(timestamp), sortindex, newTTLExpire, payload, int64(len(payload)))
		if err != nil {
			return false, err
		}
		return true, nil
	}

	changesModified := item.Payload != nil
	if !changesModified && item.SortIndex != nil {
		changesModified = curSortIndex != *item.SortIndex
	}
	if !changesModified && newTTLExpire != 0 {
		changesModified = curTTLExpire != newTTLExpire
	}

	sortindex := curSortIndex
	if item.SortIndex != nil {
		sortindex = *item.SortIndex
	}
	ttlExpire := curTTLExpire
	if newTTLExpire != 0 {
		ttlExpire = newTTLExpire
	}
	modified := int64(timestamp)
	if !changesModified {
		// preserve the stored value by reading it back so the UPDATE
		// below writes it unchanged.
		tx.QueryRow(`SELECT modified FROM bso WHERE user_id == ?1 AND collection_id == ?2 AND id == ?3`, userID, collID, item.ID).Scan(&modified)
	}

	if item.Payload != nil {
		_, err = tx.Exec(`UPDATE bso SET payload = ?1, payload_size = ?2, sortindex = ?3, ttl_expire_at = ?4, modified = ?5
			WHERE user_id == ?6 AND collection_id == ?7 AND id == ?8`,
			*item.Payload, int64(len(*item.Payload)), sortindex, ttlExpire, modified, userID, collID, item.ID)
	} else {
		_, err = tx.Exec(`UPDATE bso SET sortindex = ?1, ttl_expire_at = ?2, modified = ?3
			WHERE user_id == ?4 AND collection_id == ?5 AND id == ?6`,
			sortindex, ttlExpire, modified, userID, collID, item.ID)
	}
	if err != nil {
		return false, err
	}
	return changesModified, nil
}

func (b *QLBackend) DeleteItem(userID int64, collection string, id string, timestamp clock.Timestamp, pre Precondition) (*DeleteResult, error) {
	return b.deleteByQuery(userID, collection, Query{IDs: []string{id}}, timestamp, pre, true)
}

func (b *QLBackend) DeleteItems(userID int64, collection string, q Query, timestamp clock.Timestamp, pre Precondition) (*DeleteResult, error) {
	return b.deleteByQuery(userID, collection, q, timestamp, pre, false)
}

func (b *QLBackend) deleteByQuery(userID int64, collection string, q Query, timestamp clock.Timestamp, pre Precondition, mustExist bool) (*DeleteResult, error) {
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

	b.g.enter()
	defer b.g.leave()

	tx, err := b.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "storage: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var currentModified int64
	err = tx.QueryRow(`SELECT last_modified FROM user_collections WHERE user_id == ?1 AND collection_id == ?2`, userID, collID).Scan(&currentModified)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if pre.IfUnmodifiedSince != nil && clock.Timestamp(currentModified) > *pre.IfUnmodifiedSince {
		return nil, ErrPreconditionFailed
	}

	where, args := buildQLDeleteWhere(userID, collID, q)
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

	if mustExist && len(ids) == 0 {
		return nil, ErrNotFound
	}

	result := &DeleteResult{Deleted: ids, LastModified: clock.Timestamp(currentModified)}
	if len(ids) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		tx.QueryRow(`SELECT count FROM user_collections WHERE user_id == ?1 AND collection_id == ?2`, userID, collID).Scan(&result.Count)
		return result, nil
	}

	if _, err := tx.Exec(`DELETE FROM bso WHERE `+where, args...); err != nil {
		return nil, errors.Wrap(err, "storage: delete exec")
	}

	var remaining int64
	if err := tx.QueryRow(`SELECT count(*) FROM bso WHERE user_id == ?1 AND collection_id == ?2 AND (ttl_expire_at == 0 || ttl_expire_at > ?3)`, userID, collID, int64(timestamp)).Scan(&remaining); err != nil {
		return nil, err
	}
	if err := qlSetCollectionTimestamp(tx, userID, collID, timestamp, remaining); err != nil {
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

func buildQLDeleteWhere(userID, collID int64, q Query) (string, []interface{}) {
	where := []string{"user_id == ?1", "collection_id == ?2"}
	args := []interface{}{userID, collID}
	n := 2
	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			n++
			placeholders[i] = fmt.Sprintf("?%d", n)
			args = append(args, id)
		}
		where = append(where, "id in ("+strings.Join(placeholders, ",")+")")
	}
	if q.Newer != nil {
		n++
		where = append(where, fmt.Sprintf("modified > ?%d", n))
		args = append(args, int64(*q.Newer))
	}
	if q.Older != nil {
		n++
		where = append(where, fmt.Sprintf("modified < ?%d", n))
		args = append(args, int64(*q.Older))
	}
	return strings.Join(where, " && "), args
}

func (b *QLBackend) DeleteCollection(userID int64, collection string, timestamp clock.Timestamp) (clock.Timestamp, error) {
	collID, _, err := b.CollectionID(userID, collection, false)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	b.g.enter()
	defer b.g.leave()

	tx, err := b.db.Begin()
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if _, err := tx.Exec(`DELETE FROM bso WHERE user_id == ?1 AND collection_id == ?2`, userID, collID); err != nil {
		return 0, err
	}
	if err := qlSetCollectionTimestamp(tx, userID, collID, timestamp, 0); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return timestamp, nil
}

func (b *QLBackend) DeleteUser(userID int64) error {
	b.g.enter()
	defer b.g.leave()

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	stmts := []struct {
		sql string
	}{
		{`DELETE FROM bso WHERE user_id == ?1`},
		{`DELETE FROM user_collections WHERE user_id == ?1`},
		{`DELETE FROM collections WHERE user_id == ?1`},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s.sql, userID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
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

var _ Backend = (*QLBackend)(nil)
