package history

import (
	"path/filepath"
	"time"

	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/logger"
	"github.com/savehub/savehub/pkg/os"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// Record is one launch of one game, persisted across agent restarts.
type Record struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	GameID    string     `gorm:"index" json:"gameId"`
	SavePath  string     `json:"savePath"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	// how the session ended: terminated, exited
	EndReason string `json:"endReason,omitempty"`
}

type Store struct {
	db    *gorm.DB
	log   *logger.Logger
	limit int
}

func Open(conf config.History, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(conf.DbPath); dir != "." {
		if err := os.CheckCreateDir(dir); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(conf.DbPath), &gorm.Config{
		Logger: gormlog.Default.LogMode(gormlog.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log, limit: conf.Limit}, nil
}

// Begin records a new launch and returns its id for End.
func (s *Store) Begin(gameID, savePath string) uint {
	rec := Record{GameID: gameID, SavePath: savePath, StartedAt: time.Now()}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Error().Err(err).Msg("history write failed")
		return 0
	}
	return rec.ID
}

// End closes an open launch record.
func (s *Store) End(id uint, reason string) {
	if id == 0 {
		return
	}
	now := time.Now()
	err := s.db.Model(&Record{}).Where("id = ?", id).
		Updates(map[string]any{"ended_at": &now, "end_reason": reason}).Error
	if err != nil {
		s.log.Error().Err(err).Msg("history update failed")
	}
}

// Recent returns the latest launches, newest first.
func (s *Store) Recent() ([]Record, error) {
	var recs []Record
	err := s.db.Order("started_at desc").Limit(s.limit).Find(&recs).Error
	return recs, err
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
