package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しないことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSlug は記事のslugが一意制約に違反したことを示す。
	ErrDuplicateSlug = errors.New("duplicate slug")
	// ErrIdentityGone は参照先のidentityが削除済みであることを示す。
	ErrIdentityGone = errors.New("identity no longer exists")
)

// uniqueViolation はPostgreSQLの一意制約違反（23505）かどうかを返す。
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// foreignKeyViolation はPostgreSQLの外部キー制約違反（23503）かどうかを返す。
func foreignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
