// Package store persists events, the sent-trigger log and key/value settings
// in a local SQLite database through gorm.
//
// Every method is a complete request: there are no transactions spanning
// calls. The connection pool is capped at one connection so writes from the
// HTTP handlers and the dispatcher are serialized by the pool itself.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"countdown/internal/goerror"
	appLog "countdown/internal/log"
	"countdown/internal/model"
	"countdown/internal/uid"
	"countdown/internal/validator"
)

// eventRecord is the events table row.
type eventRecord struct {
	ID                     string `gorm:"primaryKey;size:36"`
	Name                   string `gorm:"not null"`
	Description            string
	EventDate              string `gorm:"size:10;not null;index"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
	IsActive               bool   `gorm:"not null;default:true;index"`
	NotificationEnabled    bool   `gorm:"not null;default:true"`
	NotificationDaysBefore int    `gorm:"not null;default:1"`
	ThemeColor             string `gorm:"size:16;not null;default:'#013220'"`
	Priority               int    `gorm:"not null;default:1"`
}

func (eventRecord) TableName() string { return "events" }

// triggerRecord is one delivered notification.
type triggerRecord struct {
	ID      uint   `gorm:"primaryKey"`
	EventID string `gorm:"size:36;not null;index"`
	Kind    string `gorm:"size:16;not null"`
	Date    string `gorm:"size:10;not null"`
	SentAt  time.Time
}

func (triggerRecord) TableName() string { return "triggers" }

// settingRecord is a flat key/value pair.
type settingRecord struct {
	Key   string `gorm:"column:setting_key;primaryKey"`
	Value string `gorm:"column:setting_value"`
}

func (settingRecord) TableName() string { return "settings" }

// Options configures a Store.
type Options struct {
	// Path is the SQLite database file. Parent directories are created.
	Path string
	// IDs generates event ids; defaults to UUIDv7.
	IDs uid.Generator
	// Validator validates inputs; defaults to the v10 validator.
	Validator validator.Validator
	// Now stamps created_at/updated_at; defaults to time.Now.
	Now func() time.Time
}

// Store is the SQLite-backed event store.
type Store struct {
	db    *gorm.DB
	ids   uid.Generator
	valid validator.Validator
	now   func() time.Time
}

// Open opens (and migrates) the database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, goerror.NewStoreIO(err)
	}

	db, err := gorm.Open(sqlite.Open(opts.Path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, goerror.NewStoreIO(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerror.NewStoreIO(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&eventRecord{}, &triggerRecord{}, &settingRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, goerror.NewStoreIO(fmt.Errorf("migrate: %w", err))
	}

	s := &Store{db: db, ids: opts.IDs, valid: opts.Validator, now: opts.Now}
	if s.ids == nil {
		s.ids = uid.NewUUID()
	}
	if s.valid == nil {
		v, err := validator.New()
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		s.valid = v
	}
	if s.now == nil {
		s.now = time.Now
	}

	appLog.Info("store opened", "path", opts.Path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create validates in, assigns a fresh id and inserts the event, active
// unless in.Inactive is set.
func (s *Store) Create(ctx context.Context, in model.EventInput) (string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.EventDate = strings.TrimSpace(in.EventDate)
	if err := s.valid.Validate(in); err != nil {
		return "", goerror.NewValidation(err)
	}

	now := s.now().UTC()
	rec := eventRecord{
		ID:                     s.ids.Generate(),
		Name:                   in.Name,
		Description:            in.Description,
		EventDate:              in.EventDate,
		CreatedAt:              now,
		UpdatedAt:              now,
		IsActive:               !in.Inactive,
		NotificationEnabled:    true,
		NotificationDaysBefore: model.DefaultNotificationDaysBefore,
		ThemeColor:             model.DefaultThemeColor,
		Priority:               int(model.DefaultPriority),
	}
	if in.NotificationEnabled != nil {
		rec.NotificationEnabled = *in.NotificationEnabled
	}
	if in.NotificationDaysBefore != nil {
		rec.NotificationDaysBefore = *in.NotificationDaysBefore
	}
	if in.Priority != 0 {
		rec.Priority = int(in.Priority)
	}
	if in.ThemeColor != "" {
		rec.ThemeColor = in.ThemeColor
	}

	// Select("*") so false booleans are written instead of column defaults.
	if err := s.db.WithContext(ctx).Select("*").Create(&rec).Error; err != nil {
		return "", goerror.NewStoreIO(err)
	}

	appLog.Debug("event created", "id", rec.ID, "date", rec.EventDate)
	return rec.ID, nil
}

// List returns events ordered by ascending event date. activeOnly filters out
// soft-deleted events.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Model(&eventRecord{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var recs []eventRecord
	if err := q.Order("event_date ASC").Order("created_at ASC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, goerror.NewStoreIO(err)
	}

	out := make([]model.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := rec.toModel()
		if err != nil {
			// A row that does not parse was not written through Create/Update.
			appLog.Error("skipping event with malformed date", err, "id", rec.ID, "date", rec.EventDate)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Get returns the event with the given id.
func (s *Store) Get(ctx context.Context, id string) (model.Event, error) {
	rec, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return model.Event{}, err
	}
	return rec.toModel()
}

// Update applies the non-nil fields of p. It returns false without touching
// the record when p is empty. Invalid fields reject the whole patch.
func (s *Store) Update(ctx context.Context, id string, p model.EventPatch) (bool, error) {
	if p.Empty() {
		return false, nil
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	if p.EventDate != nil {
		d := strings.TrimSpace(*p.EventDate)
		p.EventDate = &d
	}
	if err := s.valid.Validate(p); err != nil {
		return false, goerror.NewValidation(err)
	}

	updates := map[string]any{"updated_at": s.now().UTC()}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.EventDate != nil {
		updates["event_date"] = *p.EventDate
	}
	if p.NotificationEnabled != nil {
		updates["notification_enabled"] = *p.NotificationEnabled
	}
	if p.NotificationDaysBefore != nil {
		updates["notification_days_before"] = *p.NotificationDaysBefore
	}
	if p.Priority != nil {
		updates["priority"] = int(*p.Priority)
	}
	if p.ThemeColor != nil {
		updates["theme_color"] = *p.ThemeColor
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}

	return true, s.updateColumns(ctx, id, updates)
}

// SoftDelete marks the event inactive. The record stays in storage.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	return s.updateColumns(ctx, id, map[string]any{"is_active": false, "updated_at": s.now().UTC()})
}

// Restore reactivates a soft-deleted event.
func (s *Store) Restore(ctx context.Context, id string) error {
	return s.updateColumns(ctx, id, map[string]any{"is_active": true, "updated_at": s.now().UTC()})
}

// HardDelete permanently removes the event and its trigger log.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.find(tx, id); err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&triggerRecord{}).Error; err != nil {
			return goerror.NewStoreIO(err)
		}
		if err := tx.Where("id = ?", id).Delete(&eventRecord{}).Error; err != nil {
			return goerror.NewStoreIO(err)
		}
		appLog.Info("event deleted permanently", "id", id)
		return nil
	})
}

// RecordTrigger appends a delivered trigger to the log.
func (s *Store) RecordTrigger(ctx context.Context, tr model.Trigger) error {
	rec := triggerRecord{
		EventID: tr.EventID,
		Kind:    tr.Kind.String(),
		Date:    tr.Date.Format(model.DateLayout),
		SentAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return goerror.NewStoreIO(err)
	}
	return nil
}

// ListTriggers returns the delivered triggers of one event, oldest first.
func (s *Store) ListTriggers(ctx context.Context, eventID string) ([]model.SentTrigger, error) {
	var recs []triggerRecord
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&recs).Error
	if err != nil {
		return nil, goerror.NewStoreIO(err)
	}

	out := make([]model.SentTrigger, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.SentTrigger{
			EventID: rec.EventID,
			Kind:    model.TriggerKind(rec.Kind),
			Date:    rec.Date,
			SentAt:  rec.SentAt,
		})
	}
	return out, nil
}

// GetSetting returns the stored value for key, or def when unset.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var rec settingRecord
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return def, goerror.NewStoreIO(err)
	}
	return rec.Value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value"}),
	}).Create(&settingRecord{Key: key, Value: value}).Error
	if err != nil {
		return goerror.NewStoreIO(err)
	}
	return nil
}

// ListSettings returns every setting whose key starts with prefix.
func (s *Store) ListSettings(ctx context.Context, prefix string) (map[string]string, error) {
	var recs []settingRecord
	err := s.db.WithContext(ctx).Where("setting_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").Order("setting_key ASC").Find(&recs).Error
	if err != nil {
		return nil, goerror.NewStoreIO(err)
	}

	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.Key] = rec.Value
	}
	return out, nil
}

func (s *Store) find(db *gorm.DB, id string) (eventRecord, error) {
	var rec eventRecord
	err := db.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, goerror.NewNotFound("event", id)
	}
	if err != nil {
		return rec, goerror.NewStoreIO(err)
	}
	return rec, nil
}

func (s *Store) updateColumns(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&eventRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return goerror.NewStoreIO(res.Error)
	}
	if res.RowsAffected == 0 {
		return goerror.NewNotFound("event", id)
	}
	return nil
}

func (r eventRecord) toModel() (model.Event, error) {
	d, err := model.ParseDate(r.EventDate)
	if err != nil {
		return model.Event{}, goerror.NewValidation(err, "event_date", "stored date is malformed")
	}
	return model.Event{
		ID:                     r.ID,
		Name:                   r.Name,
		Description:            r.Description,
		EventDate:              d,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
		IsActive:               r.IsActive,
		NotificationEnabled:    r.NotificationEnabled,
		NotificationDaysBefore: r.NotificationDaysBefore,
		ThemeColor:             r.ThemeColor,
		Priority:               model.Priority(r.Priority),
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
