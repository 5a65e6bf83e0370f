package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrTitleTaken = errors.New("canvas title already taken")

// Canvas is the metadata record behind a room id. The HTTP CRUD surface for
// these records lives outside this service; the sync engine only registers
// rooms lazily and honors the soft-delete flag.
type Canvas struct {
	ID        string    `gorm:"primaryKey;size:64"`
	OwnerID   uint64    `gorm:"index"`
	Title     string    `gorm:"size:255;uniqueIndex"`
	IsDeleted bool      `gorm:"default:false;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Canvas) TableName() string { return "canvases" }

type CanvasStore struct {
	db *gorm.DB
}

func NewCanvasStore(db *gorm.DB) *CanvasStore {
	return &CanvasStore{db: db}
}

func (s *CanvasStore) Create(ctx context.Context, ownerID uint64, title string) (Canvas, error) {
	c := Canvas{ID: uuid.NewString(), OwnerID: ownerID, Title: title}
	err := s.db.WithContext(ctx).Create(&c).Error
	if err != nil {
		// 1062 = duplicate key
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return Canvas{}, ErrTitleTaken
		}
		return Canvas{}, err
	}
	return c, nil
}

func (s *CanvasStore) GetByID(ctx context.Context, id string) (*Canvas, error) {
	var c Canvas
	err := s.db.WithContext(ctx).First(&c, "id = ? AND is_deleted = false", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EnsureExists registers an ad-hoc canvas record the first time a room id is
// joined. Racing registrations are fine; the loser's insert is a no-op.
func (s *CanvasStore) EnsureExists(ctx context.Context, id string) error {
	c := Canvas{ID: id, Title: id}
	err := s.db.WithContext(ctx).
		Where(Canvas{ID: id}).
		FirstOrCreate(&c).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
	}
	return err
}
