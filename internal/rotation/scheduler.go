package rotation

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Notifier receives ranking reports.
type Notifier interface {
	Notify(message string)
}

// Scheduler runs the periodic ranking maintenance: archiving stale or
// poor coins and publishing a status report every six hours.
type Scheduler struct {
	cron     *cron.Cron
	ranker   *Ranker
	notifier Notifier
	logger   *logrus.Logger
}

func NewScheduler(ranker *Ranker, notifier Notifier, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		ranker:   ranker,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("0 */6 * * *", func() {
		s.logger.Info("Running ranking maintenance")
		s.ranker.Cleanup()
		s.notifier.Notify(s.ranker.Report())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
