package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
	"github.com/himanishpuri/ReverseMapper/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "reversemapper.sqlite3"
const errDBClientNil = "db client is nil"

var ErrNotFound = errors.New("generation not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Generation struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	SessionID   string `gorm:"type:varchar(36);index:idx_session" json:"session_id"`
	Title       string `gorm:"index:idx_chart_meta,priority:1" json:"title"`
	Artist      string `gorm:"index:idx_chart_meta,priority:2" json:"artist"`
	Version     string `json:"version"`
	ChartHash   string `gorm:"type:varchar(32);index:idx_chart_hash" json:"chart_hash"`
	Notes       int    `json:"notes"`
	Dropped     int    `json:"dropped"`
	Seed        int32  `json:"seed"`
	Mods        string `json:"mods"`
	ArchivePath string `json:"archive_path"`
	ReplayPath  string `json:"replay_path"`
	ReplaySize  int64  `json:"replay_size"`
	CreatedAt   time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("REVMAP_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Generation{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// CreateGeneration stores g and returns its ID, generating one when g.ID is empty.
func (c *DBClient) CreateGeneration(g models.Generation) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}

	row := toRow(g)
	if row.ID == "" {
		row.ID = utils.GenerateUUID()
	}
	if err := c.DB.Create(&row).Error; err != nil {
		return "", fmt.Errorf("creating generation: %w", err)
	}
	return row.ID, nil
}

func (c *DBClient) GetGeneration(id string) (*models.Generation, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var row Generation
	if err := c.DB.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying generation: %w", err)
	}
	g := fromRow(row)
	return &g, nil
}

// ListGenerations returns the newest generations first. limit <= 0 returns all.
func (c *DBClient) ListGenerations(limit int) ([]models.Generation, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	q := c.DB.Order("created_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Generation
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}

	out := make([]models.Generation, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// FindByChartHash returns the generations whose chart text hashed to hash.
func (c *DBClient) FindByChartHash(hash string) ([]models.Generation, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Generation
	if err := c.DB.Where("chart_hash = ?", hash).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying chart hash: %w", err)
	}
	out := make([]models.Generation, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (c *DBClient) DeleteGeneration(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("id = ?", id).Delete(&Generation{})
	if res.Error != nil {
		return fmt.Errorf("deleting generation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (c *DBClient) CountGenerations() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Generation{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting generations: %w", err)
	}
	return n, nil
}

func toRow(g models.Generation) Generation {
	return Generation{
		ID:          g.ID,
		SessionID:   g.SessionID,
		Title:       g.Title,
		Artist:      g.Artist,
		Version:     g.Version,
		ChartHash:   g.ChartHash,
		Notes:       g.Notes,
		Dropped:     g.Dropped,
		Seed:        g.Seed,
		Mods:        g.Mods,
		ArchivePath: g.ArchivePath,
		ReplayPath:  g.ReplayPath,
		ReplaySize:  g.ReplaySize,
		CreatedAt:   g.CreatedAt,
	}
}

func fromRow(r Generation) models.Generation {
	return models.Generation{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Title:       r.Title,
		Artist:      r.Artist,
		Version:     r.Version,
		ChartHash:   r.ChartHash,
		Notes:       r.Notes,
		Dropped:     r.Dropped,
		Seed:        r.Seed,
		Mods:        r.Mods,
		ArchivePath: r.ArchivePath,
		ReplayPath:  r.ReplayPath,
		ReplaySize:  r.ReplaySize,
		CreatedAt:   r.CreatedAt,
	}
}
