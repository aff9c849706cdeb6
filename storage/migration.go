package storage

import (
	"log"

	"github.com/BurntSushi/migration"
)

// dbVersion adapts BurntSushi/migration's version-tracking hooks to work
// across both backends (MySQL and QL use slightly different SQL to read
// and write a single-row version table).
type dbVersion struct {
	GetSQL    string
	SetSQL    string
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// no migration table yet
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return err
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}

// execList runs each statement in stmts in order, stopping at the first
// error. Some drivers (notably go-sql-driver/mysql) don't support
// compound multi-statement Exec calls, so migrations are split into a
// list of individual statements, same as bendo's execlist helper.
func execList(tx migration.LimitedTx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
