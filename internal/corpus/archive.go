package corpus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Finding is a solutions-corpus entry recorded in the campaign database so
// that findings from every node end up in one queryable place.
type Finding struct {
	ID         string    `gorm:"primaryKey;column:id"`
	Campaign   string    `gorm:"column:campaign;not null"`
	Client     string    `gorm:"column:client;not null"`
	Sig        string    `gorm:"column:sig;not null"`
	ExitKind   string    `gorm:"column:exit_kind;not null"`
	Path       string    `gorm:"column:path"`
	SizeBytes  int       `gorm:"column:size_bytes"`
	DetectedAt time.Time `gorm:"column:detected_at;default:now()"`
}

// Archive asynchronously records findings in postgres. Records are best
// effort: the durable copy is the solutions corpus on disk, and a database
// outage must never stall the fuzzing loop.
type Archive struct {
	db       *gorm.DB
	logger   *zap.Logger
	campaign string
	client   string

	findings chan Finding
	done     chan struct{}
}

func NewArchive(db *gorm.DB, logger *zap.Logger, campaign, client string) *Archive {
	a := &Archive{
		db:       db,
		logger:   logger.Named("archive"),
		campaign: campaign,
		client:   client,
		findings: make(chan Finding, 256),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues a finding. Drops with a warning when the queue is full.
func (a *Archive) Record(sig Sig, exitKind, path string, size int) {
	f := Finding{
		ID:         uuid.NewString(),
		Campaign:   a.campaign,
		Client:     a.client,
		Sig:        sig.String(),
		ExitKind:   exitKind,
		Path:       path,
		SizeBytes:  size,
		DetectedAt: time.Now(),
	}
	select {
	case a.findings <- f:
	default:
		a.logger.Warn("finding archive queue full, dropping record", zap.String("sig", f.Sig))
	}
}

func (a *Archive) run() {
	defer close(a.done)
	for f := range a.findings {
		if err := a.db.WithContext(context.Background()).Create(&f).Error; err != nil {
			a.logger.Error("failed to archive finding", zap.String("sig", f.Sig), zap.Error(err))
		}
	}
}

// Close drains queued findings and stops the writer.
func (a *Archive) Close() {
	close(a.findings)
	<-a.done
}
