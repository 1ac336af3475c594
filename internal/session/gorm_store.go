package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "healthintel.local/gateway/internal/db"
)

const maxUpdateAttempts = 3

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := NewGormStoreFromDB(gormDB)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func NewGormStoreFromDB(gormDB *gorm.DB) *GormStore {
	return &GormStore{
		db:  gormDB,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&sessionRow{}); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (Session, error) {
	if err := validateSessionID(id); err != nil {
		return Session{}, err
	}
	row, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return Session{}, err
	}
	return row.toRecord()
}

func (s *GormStore) Ensure(ctx context.Context, id string) (Session, bool, error) {
	if err := validateSessionID(id); err != nil {
		return Session{}, false, err
	}

	existing, err := s.Get(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, false, err
	}

	sess := newSession(id, s.now())
	row, err := sessionRowFromRecord(sess)
	if err != nil {
		return Session{}, false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return Session{}, false, fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// lost a race with another creator
		stored, err := s.Get(ctx, id)
		return stored, false, err
	}
	return sess, true, nil
}

func (s *GormStore) Update(ctx context.Context, id string, fn UpdateFunc) (Session, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		row, err := s.load(s.db.WithContext(ctx), id)
		if err != nil {
			return Session{}, err
		}
		current, err := row.toRecord()
		if err != nil {
			return Session{}, err
		}
		next, err := applyUpdate(current, fn, s.now())
		if err != nil {
			return Session{}, err
		}
		nextRow, err := sessionRowFromRecord(next)
		if err != nil {
			return Session{}, err
		}

		res := s.db.WithContext(ctx).
			Model(&sessionRow{}).
			Where("id = ? AND revision = ?", id, current.Revision).
			Updates(nextRow.columns())
		if res.Error != nil {
			return Session{}, fmt.Errorf("update session: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return Session{}, ErrConflict
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(count), nil
}

func (s *GormStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var expired []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessionRow{}).
			Where("updated_at < ?", cutoff).
			Order("id ASC").
			Pluck("id", &expired).Error; err != nil {
			return fmt.Errorf("list idle sessions: %w", err)
		}
		if len(expired) == 0 {
			return nil
		}
		if err := tx.Where("id IN ? AND updated_at < ?", expired, cutoff).Delete(&sessionRow{}).Error; err != nil {
			return fmt.Errorf("delete idle sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

func (s *GormStore) load(tx *gorm.DB, id string) (sessionRow, error) {
	var row sessionRow
	err := tx.Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessionRow{}, ErrNotFound
		}
		return sessionRow{}, fmt.Errorf("get session: %w", err)
	}
	return row, nil
}
