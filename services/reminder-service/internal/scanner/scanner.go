package scanner

import (
	"context"
	"log/slog"
	"time"
)

// Kind names the two reminder passes. Each appointment gets at most one of
// each, tracked by a one-way flag per kind.
type Kind string

const (
	KindDayBefore Kind = "day_before"
	KindDayOf     Kind = "day_of"
)

// Windows are the hours-until-start bands, inclusive on both ends, that make
// a reminder due. Policy knobs, not law; the defaults leave an hourly scan
// landing inside each band at least once.
type Windows struct {
	DayBeforeMin time.Duration
	DayBeforeMax time.Duration
	DayOfMin     time.Duration
	DayOfMax     time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		DayBeforeMin: 20 * time.Hour,
		DayBeforeMax: 28 * time.Hour,
		DayOfMin:     3 * time.Hour,
		DayOfMax:     5 * time.Hour,
	}
}

func (w Windows) valid() bool {
	return w.DayBeforeMin > 0 && w.DayBeforeMax > w.DayBeforeMin &&
		w.DayOfMin > 0 && w.DayOfMax > w.DayOfMin
}

// horizon is how far ahead ListUnreminded has to look.
func (w Windows) horizon() time.Duration {
	if w.DayOfMax > w.DayBeforeMax {
		return w.DayOfMax
	}
	return w.DayBeforeMax
}

// Appointment is the scanner's view of an upcoming booking.
type Appointment struct {
	ID            string
	Status        string
	ServiceName   string
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	StartTime     time.Time
	EndTime       time.Time
	DayBeforeSent bool
	DayOfSent     bool
}

// Remindable reports whether an appointment in this status still gets
// reminders. Pending bookings are upcoming too; payment settles separately
// and must not silence the reminder.
func Remindable(status string) bool {
	return status == "pending" || status == "confirmed"
}

// Store loads candidates and records due reminders. RecordDue flips the
// per-kind flag and enqueues the due event in one transaction, conditioned
// on the flag still being unset; ok=false means another scan got there
// first and nothing was enqueued.
type Store interface {
	ListUnreminded(ctx context.Context, from, to time.Time) ([]Appointment, error)
	RecordDue(ctx context.Context, appt Appointment, kind Kind) (bool, error)
}

// Locker serializes scans across replicas. ok=false means another replica is
// scanning; release must be called after the scan when ok is true.
type Locker interface {
	TryScanLock(ctx context.Context) (release func(), ok bool, err error)
}

type Config struct {
	Interval time.Duration
	Windows  Windows
}

type Scanner struct {
	store    Store
	locker   Locker
	logger   *slog.Logger
	interval time.Duration
	windows  Windows
	now      func() time.Time
}

func New(store Store, locker Locker, logger *slog.Logger, cfg Config) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if !cfg.Windows.valid() {
		cfg.Windows = DefaultWindows()
	}
	return &Scanner{
		store:    store,
		locker:   locker,
		logger:   logger,
		interval: cfg.Interval,
		windows:  cfg.Windows,
		now:      time.Now,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := s.ScanOnce(ctx)
			if err != nil {
				s.logger.Error("reminder scan failed", "err", err)
				continue
			}
			if sent > 0 {
				s.logger.Info("reminder scan complete", "sent", sent)
			}
		}
	}
}

// ScanOnce runs one reminder pass and returns how many reminders went out.
// A failure on one appointment is logged and does not stop the rest.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		release, ok, err := s.locker.TryScanLock(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Info("reminder scan skipped (another replica holds the lock)")
			return 0, nil
		}
		defer release()
	}

	now := s.now()
	appts, err := s.store.ListUnreminded(ctx, now, now.Add(s.windows.horizon()))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, appt := range appts {
		if !Remindable(appt.Status) {
			continue
		}
		if DueDayBefore(appt, now, s.windows) && s.record(ctx, appt, KindDayBefore) {
			sent++
		}
		if DueDayOf(appt, now, s.windows) && s.record(ctx, appt, KindDayOf) {
			sent++
		}
	}
	return sent, nil
}

func (s *Scanner) record(ctx context.Context, appt Appointment, kind Kind) bool {
	won, err := s.store.RecordDue(ctx, appt, kind)
	if err != nil {
		s.logger.Error("reminder record failed",
			"appointment_id", appt.ID, "kind", string(kind), "err", err)
		return false
	}
	if !won {
		s.logger.Warn("reminder already flagged by another scan",
			"appointment_id", appt.ID, "kind", string(kind))
	}
	return won
}

// DueDayBefore reports whether the appointment sits in the day-before window
// and has not had that reminder yet.
func DueDayBefore(appt Appointment, now time.Time, w Windows) bool {
	if appt.DayBeforeSent {
		return false
	}
	until := appt.StartTime.Sub(now)
	return until >= w.DayBeforeMin && until <= w.DayBeforeMax
}

// DueDayOf is the same check for the short same-day window.
func DueDayOf(appt Appointment, now time.Time, w Windows) bool {
	if appt.DayOfSent {
		return false
	}
	until := appt.StartTime.Sub(now)
	return until >= w.DayOfMin && until <= w.DayOfMax
}
