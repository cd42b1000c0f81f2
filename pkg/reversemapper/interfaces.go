package reversemapper

import (
	"context"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
)

type Service interface {
	LoadArchive(ctx context.Context, data []byte) (*Project, error)
	LoadArchiveFile(ctx context.Context, path string) (*Project, error)
	LoadChart(text string) (*Project, error)

	StartSession(p *Project, settings *session.Settings, input session.Input) (*Capture, error)
	GetSession(id string) (*Capture, error)
	EndSession(id string) error
	Finalize(ctx context.Context, id string) (*Output, error)
	ExpireSessions(maxIdle time.Duration) []string

	History(limit int) ([]models.Generation, error)
	HistoryCount() (int64, error)
	FindByChartHash(hash string) ([]models.Generation, error)
	GetGeneration(id string) (*models.Generation, error)
	DeleteGeneration(id string, removeFiles bool) error
	Close() error
}

type Storage interface {
	CreateGeneration(g models.Generation) (string, error)
	GetGeneration(id string) (*models.Generation, error)
	ListGenerations(limit int) ([]models.Generation, error)
	FindByChartHash(hash string) ([]models.Generation, error)
	DeleteGeneration(id string) error
	CountGenerations() (int64, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
