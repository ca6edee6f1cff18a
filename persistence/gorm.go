package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const maxCreateRoomAttempts = 3

type GormPersist struct {
	db     *gorm.DB
	logger hclog.Logger
}

var _ Persister = (*GormPersist)(nil)

// NewGormPersister opens the configured database and migrates the schema.
func NewGormPersister(cfg config.PersistenceConfig) (*GormPersist, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db, logger: globals.AppLogger.Named("persistence")}, nil
}

func setupGormDB(cfg config.PersistenceConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("persistence dsn is not configured")
	}
	var dial gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dial = postgres.Open(cfg.DSN)

	case "sqlite", "":
		dial = sqlite.Open(cfg.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence type %q", cfg.Type)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if cfg.Type != "postgres" {
		// sqlite allows a single writer; serializing on one connection avoids
		// "database is locked" under concurrent joins
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&types.User{}, &types.Room{}, &types.Membership{}, &types.Message{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewNotFoundError(op, "not found")
	}
	return types.NewPersistenceError(op, err)
}

func (p *GormPersist) UpsertUser(ctx context.Context, user types.User) (*types.User, error) {
	db := p.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		// a flag granted in the store survives connections whose identity carries no admin claim
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_admin":   gorm.Expr("users.is_admin OR excluded.is_admin"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&user).Error
	if err != nil {
		return nil, wrapErr("upsert user", err)
	}
	stored := &types.User{}
	if err := db.First(stored, "id = ?", user.Id).Error; err != nil {
		return nil, wrapErr("upsert user", err)
	}
	return stored, nil
}

func (p *GormPersist) GetUser(ctx context.Context, id string) (*types.User, error) {
	user := &types.User{}
	err := p.db.WithContext(ctx).First(user, "id = ?", id).Error
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	return user, nil
}

func (p *GormPersist) GetUsers(ctx context.Context, ids []string) ([]*types.User, error) {
	users := make([]*types.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, wrapErr("get users", err)
}

func (p *GormPersist) RenameUser(ctx context.Context, id, displayName string) error {
	res := p.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Update("display_name", displayName)
	if res.Error != nil {
		return wrapErr("rename user", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("rename user", "unknown user %s", id)
	}
	return nil
}

func (p *GormPersist) SetUserAdmin(ctx context.Context, id string, isAdmin bool) error {
	res := p.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Update("is_admin", isAdmin)
	if res.Error != nil {
		return wrapErr("set user admin", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("set user admin", "unknown user %s", id)
	}
	return nil
}

// GetOrCreateRoom relies on the unique index on rooms.code: the insert does
// nothing when another joiner got there first, and the winner's row is re-read.
func (p *GormPersist) GetOrCreateRoom(ctx context.Context, code, ownerId string) (*types.Room, bool, error) {
	db := p.db.WithContext(ctx)
	var lastErr error
	for attempt := 0; attempt < maxCreateRoomAttempts; attempt++ {
		room := &types.Room{}
		err := db.Where("code = ?", code).First(room).Error
		if err == nil {
			return room, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			lastErr = err
			continue
		}

		room = &types.Room{Code: code, OwnerId: ownerId, CreatedAt: time.Now().UTC()}
		res := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(room)
		if res.Error != nil {
			// a driver reporting the unique violation as an error ends up here;
			// the next attempt reads the winner
			lastErr = res.Error
			p.logger.Debug("room insert failed, retrying as lookup", "code", code, "error", res.Error)
			continue
		}
		if res.RowsAffected == 1 {
			return room, true, nil
		}
		p.logger.Debug("lost room creation race", "code", code, "attempt", attempt)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("room %q did not settle after %d attempts", code, maxCreateRoomAttempts)
	}
	return nil, false, types.NewPersistenceError("get or create room", lastErr)
}

func (p *GormPersist) GetRoomByCode(ctx context.Context, code string) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.WithContext(ctx).Where("code = ?", code).First(room).Error
	if err != nil {
		return nil, wrapErr("get room", err)
	}
	return room, nil
}

func (p *GormPersist) GetRooms(ctx context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.WithContext(ctx).Order("id").Find(&rooms).Error
	return rooms, wrapErr("get rooms", err)
}

func (p *GormPersist) EnsureMembership(ctx context.Context, userId string, roomId uint64) error {
	m := types.Membership{UserId: userId, RoomId: roomId}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	return wrapErr("ensure membership", err)
}

func (p *GormPersist) HasMembership(ctx context.Context, userId string, roomId uint64) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&types.Membership{}).Where("user_id = ? AND room_id = ?", userId, roomId).Count(&count).Error
	if err != nil {
		return false, wrapErr("has membership", err)
	}
	return count > 0, nil
}

func (p *GormPersist) CreateMessage(ctx context.Context, msg *types.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return wrapErr("create message", p.db.WithContext(ctx).Create(msg).Error)
}

func (p *GormPersist) GetMessage(ctx context.Context, id uint64) (*types.Message, error) {
	msg := &types.Message{}
	err := p.db.WithContext(ctx).First(msg, "id = ?", id).Error
	if err != nil {
		return nil, wrapErr("get message", err)
	}
	return msg, nil
}

func (p *GormPersist) EditMessage(ctx context.Context, id uint64, text string, editedAt time.Time) (*types.Message, error) {
	msg := &types.Message{}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Message{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Updates(map[string]interface{}{"text": text, "edited_at": editedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.First(msg, "id = ?", id).Error; err != nil {
				return err
			}
			return ErrMessageDeleted
		}
		return tx.First(msg, "id = ?", id).Error
	})
	if errors.Is(err, ErrMessageDeleted) {
		return nil, err
	}
	if err != nil {
		return nil, wrapErr("edit message", err)
	}
	return msg, nil
}

func (p *GormPersist) DeleteMessage(ctx context.Context, id uint64, deletedAt time.Time) (bool, error) {
	changed := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Message{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", deletedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			changed = true
			return nil
		}
		// either unknown or already deleted
		return tx.Select("id").First(&types.Message{}, "id = ?", id).Error
	})
	if err != nil {
		return false, wrapErr("delete message", err)
	}
	return changed, nil
}

func (p *GormPersist) ClearRoomMessages(ctx context.Context, roomId uint64) (int64, error) {
	res := p.db.WithContext(ctx).Where("room_id = ?", roomId).Delete(&types.Message{})
	if res.Error != nil {
		return 0, wrapErr("clear room", res.Error)
	}
	return res.RowsAffected, nil
}

func (p *GormPersist) GetRecentMessages(ctx context.Context, roomId uint64, limit int) ([]*types.Message, error) {
	msgs := make([]*types.Message, 0, limit)
	err := p.db.WithContext(ctx).
		Where("room_id = ? AND deleted_at IS NULL", roomId).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, wrapErr("recent messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
