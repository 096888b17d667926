package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"roomnotify/internal/config"
	logx "roomnotify/pkg/logx"
)

// digestJob logs a one-line summary of the notification list on a cron
// schedule. It is rescheduled in place on config reload.
type digestJob struct {
	log     logx.Logger
	parser  cron.Parser
	summary func() string

	mu   sync.Mutex
	c    *cron.Cron
	loc  *time.Location
	spec string
	id   cron.EntryID
}

func newDigestJob(loc *time.Location, summary func() string, log logx.Logger) *digestJob {
	if loc == nil {
		loc = time.Local
	}
	return &digestJob{
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		summary: summary,
		loc:     loc,
	}
}

func (d *digestJob) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return
	}
	d.c = cron.New(cron.WithParser(d.parser), cron.WithLocation(d.loc))
	if d.spec != "" {
		d.addLocked()
	}
	d.c.Start()
}

func (d *digestJob) Stop(ctx context.Context) {
	d.mu.Lock()
	c := d.c
	d.c, d.id = nil, 0
	d.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply sets the schedule. A nil or disabled config removes the job.
func (d *digestJob) Apply(cfg *config.DigestConfig) error {
	spec := ""
	if cfg != nil && cfg.Enabled {
		spec = strings.TrimSpace(cfg.Schedule)
	}
	if spec != "" {
		if _, err := d.parser.Parse(spec); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if spec == d.spec {
		return nil
	}
	if d.c != nil && d.id != 0 {
		d.c.Remove(d.id)
		d.id = 0
	}
	d.spec = spec
	if d.c != nil && spec != "" {
		d.addLocked()
	}
	if spec == "" {
		d.log.Info("digest disabled")
	} else {
		d.log.Info("digest scheduled", logx.String("schedule", spec), logx.String("tz", d.loc.String()))
	}
	return nil
}

func (d *digestJob) addLocked() {
	id, err := d.c.AddFunc(d.spec, d.run)
	if err != nil {
		d.log.Warn("digest schedule rejected", logx.String("schedule", d.spec), logx.Err(err))
		return
	}
	d.id = id
}

func (d *digestJob) run() {
	d.log.Info("digest", logx.String("summary", d.summary()))
}

// Next reports the next scheduled run, zero when none.
func (d *digestJob) Next() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c == nil || d.id == 0 {
		return time.Time{}
	}
	return d.c.Entry(d.id).Next
}
