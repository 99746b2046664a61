package spool

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "hermes/pkg/logx"
)

type JanitorConfig struct {
	// Sweep is a cron spec ("@hourly", "0 * * * *", ...). Default "@hourly".
	Sweep string
	// MaxAge after which an orphaned file is removed. Default 24h.
	MaxAge time.Duration
}

// Janitor periodically sweeps the spool for files abandoned by crashed or
// killed jobs.
type Janitor struct {
	spool *Spool
	cfg   JanitorConfig
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewJanitor(spool *Spool, cfg JanitorConfig, log logx.Logger) *Janitor {
	if cfg.Sweep == "" {
		cfg.Sweep = "@hourly"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &Janitor{spool: spool, cfg: cfg, log: log}
}

func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(j.cfg.Sweep, j.sweep); err != nil {
		return fmt.Errorf("spool janitor: bad sweep spec %q: %w", j.cfg.Sweep, err)
	}
	c.Start()
	j.c = c
	j.log.Info("janitor started", logx.String("spec", j.cfg.Sweep), logx.Duration("max_age", j.cfg.MaxAge), logx.String("dir", j.spool.Dir()))
	return nil
}

func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (j *Janitor) sweep() {
	removed, err := j.spool.Sweep(j.cfg.MaxAge)
	if err != nil {
		j.log.Warn("sweep failed", logx.Err(err))
		return
	}
	if removed > 0 {
		j.log.Info("swept orphaned spool files", logx.Int("removed", removed))
	}
}
