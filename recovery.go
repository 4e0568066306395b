/*
Copyright 2025 CrossCheck Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package crosscheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crosscheck-finance/crosscheck/config"
)

// StuckSessionRecoveryProcessor periodically sweeps for sessions that sit in
// processing with no recent progress and no pending pipeline task, which
// happens when a worker dies mid-run after retries are exhausted. Such
// sessions are failed so callers stop waiting on them.
type StuckSessionRecoveryProcessor struct {
	crosscheck     *CrossCheck
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewStuckSessionRecoveryProcessor(crosscheck *CrossCheck) *StuckSessionRecoveryProcessor {
	stuckThreshold := 30 * time.Minute
	cfg, err := config.Fetch()
	if err == nil && cfg.Reconciliation.StuckSessionThresholdMin > 0 {
		stuckThreshold = time.Duration(cfg.Reconciliation.StuckSessionThresholdMin) * time.Minute
	}

	return &StuckSessionRecoveryProcessor{
		crosscheck:     crosscheck,
		pollInterval:   30 * time.Second,
		stuckThreshold: stuckThreshold,
		stopCh:         make(chan struct{}),
	}
}

func (p *StuckSessionRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stuck session recovery processor started")
}

func (p *StuckSessionRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stuck session recovery processor stopped")
}

func (p *StuckSessionRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StuckSessionRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stuck session recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stuck session recovery processor stop signal received")
			return
		case <-ticker.C:
			p.recoverWithThreshold(ctx, p.stuckThreshold)
		}
	}
}

// RecoverStuckSessions triggers an immediate sweep for stuck sessions using
// the provided threshold. This is exposed for the manual trigger API endpoint.
func (c *CrossCheck) RecoverStuckSessions(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewStuckSessionRecoveryProcessor(c)
	return processor.recoverWithThreshold(ctx, threshold), nil
}

func (p *StuckSessionRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)
	stuckSessions, err := p.crosscheck.datasource.GetStuckSessions(ctx, cutoff)
	if err != nil {
		logrus.Errorf("failed to get stuck sessions: %v", err)
		return 0
	}

	if len(stuckSessions) == 0 {
		return 0
	}

	logrus.Infof("Checking %d sessions stuck in processing (threshold=%v)", len(stuckSessions), threshold)

	recovered := 0
	for _, session := range stuckSessions {
		// A queued or running task still owns the session; it is slow, not stuck.
		if p.crosscheck.queue.HasPendingTask(session.SessionID) {
			continue
		}

		logrus.Warnf("Failing stuck session %s: no pending pipeline task", session.SessionID)
		p.crosscheck.failSession(ctx, session, fmt.Errorf("session stuck in processing for more than %v", threshold))
		recovered++
	}

	return recovered
}
