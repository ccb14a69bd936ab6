package uow

import (
	"context"

	"gorm.io/gorm"
)

// Query is an ad-hoc query over a repository's collection. Builders return a
// new Query, so a partially built one can be reused. Terminals run through
// the repository's read path.
type Query[T any] struct {
	repo   *Repository[T]
	scopes []func(*gorm.DB) *gorm.DB
}

func (q *Query[T]) with(scope func(*gorm.DB) *gorm.DB) *Query[T] {
	scopes := make([]func(*gorm.DB) *gorm.DB, 0, len(q.scopes)+1)
	scopes = append(scopes, q.scopes...)

	return &Query[T]{repo: q.repo, scopes: append(scopes, scope)}
}

// Where adds a condition in gorm's Where syntax.
func (q *Query[T]) Where(query any, args ...any) *Query[T] {
	return q.with(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// Order adds an ORDER BY expression.
func (q *Query[T]) Order(value any) *Query[T] {
	return q.with(func(db *gorm.DB) *gorm.DB {
		return db.Order(value)
	})
}

// Limit caps the number of rows.
func (q *Query[T]) Limit(n int) *Query[T] {
	return q.with(func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	})
}

// Offset skips the first n rows.
func (q *Query[T]) Offset(n int) *Query[T] {
	return q.with(func(db *gorm.DB) *gorm.DB {
		return db.Offset(n)
	})
}

// Find returns every matching entity.
func (q *Query[T]) Find(ctx context.Context) ([]*T, error) {
	return q.repo.find(ctx, "query_find", q.scopes)
}

// First returns the first matching entity, or (nil, false, nil).
func (q *Query[T]) First(ctx context.Context) (*T, bool, error) {
	rows, err := q.Limit(1).Find(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	return rows[0], true, nil
}

// Count returns the number of matching rows.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.repo.read(ctx, "query_count", func(db *gorm.DB) error {
		n = 0

		return db.Scopes(q.scopes...).Count(&n).Error
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}
