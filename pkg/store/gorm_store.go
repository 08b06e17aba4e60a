package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pocketchat/pkg/domain"
)

const migrateLockID int64 = 51873301

// GormStore implements RemoteStore directly against the managed Postgres database.
// The owner identity is trusted as-is; row-level isolation is the WHERE clause.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Read returns the owner's messages ordered by creation time.
func (s *GormStore) Read(ctx context.Context, id domain.Identity) ([]domain.Message, error) {
	if err := requireOwner(id); err != nil {
		return nil, err
	}
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", id.OwnerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, classifyDBError("select messages", err)
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// Write inserts the draft and returns the stored row.
func (s *GormStore) Write(ctx context.Context, id domain.Identity, draft domain.Draft) (domain.Message, error) {
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}
	if err := requireOwner(id); err != nil {
		return domain.Message{}, err
	}
	model := messageToModel(domain.Message{
		ID:        uuid.NewString(),
		OwnerID:   id.OwnerID,
		Role:      draft.Role,
		Text:      draft.Text,
		ImageRef:  draft.ImageRef,
		CreatedAt: s.now(),
	})
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Message{}, classifyDBError("insert message", err)
	}
	return messageFromModel(model), nil
}

// classifyDBError maps driver failures onto the store taxonomy. Connection
// class SQLSTATEs (08xxx) and anything that never reached Postgres count as
// unavailable; every other server-side error is a semantic store error.
func classifyDBError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreError, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		UserID:    msg.OwnerID,
		Role:      string(msg.Role),
		Text:      optionalString(msg.Text),
		ImageURL:  optionalString(msg.ImageRef),
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		OwnerID:   m.UserID,
		Role:      domain.Role(m.Role),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.Text != nil {
		msg.Text = *m.Text
	}
	if m.ImageURL != nil {
		msg.ImageRef = *m.ImageURL
	}
	return msg
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
