package cli

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/vpmlisting/pkg/observability"
)

// httpLogHooks writes HTTP events to the debug log.
type httpLogHooks struct {
	logger *log.Logger
}

func newHTTPLogHooks(l *log.Logger) *httpLogHooks {
	return &httpLogHooks{logger: l.WithPrefix("http")}
}

func (h *httpLogHooks) OnRequest(_ context.Context, method, host, path string) {
	h.logger.Debug("request", "method", method, "host", host, "path", path)
}

func (h *httpLogHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("response", "method", method, "host", host, "path", path, "status", status, "duration", d.Round(time.Millisecond))
}

func (h *httpLogHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Debug("request failed", "method", method, "host", host, "path", path, "err", err)
}

func (h *httpLogHooks) OnRetry(_ context.Context, method, host, path string, attempt int, delay time.Duration) {
	h.logger.Warn("retrying", "method", method, "host", host, "path", path, "attempt", attempt, "delay", delay)
}

// progressHooks reports generation progress on a spinner.
type progressHooks struct {
	spinner  *Spinner
	resolved atomic.Int64
	packages atomic.Int64
}

func (p *progressHooks) OnStateChange(_ context.Context, _, to observability.State) {
	switch to {
	case observability.StateHarvesting:
		p.spinner.Update("Fetching releases...")
	case observability.StateResolving:
		p.spinner.Update("Resolving releases...")
	case observability.StateAssembling:
		p.spinner.Update("Validating listing...")
	}
}

func (p *progressHooks) OnHarvestRound(_ context.Context, round, repos int, _ time.Duration, _ error) {
	p.spinner.Update(fmt.Sprintf("Fetching releases (round %d, %d repositories)...", round, repos))
}

func (p *progressHooks) OnReleaseResolved(_ context.Context, _, _, pkg string, _ time.Duration, err error) {
	if err != nil {
		return
	}
	n := p.resolved.Add(1)
	found := p.packages.Load()
	if pkg != "" {
		found = p.packages.Add(1)
	}
	p.spinner.Update(fmt.Sprintf("Resolving releases (%d checked, %d records)...", n, found))
}

var (
	_ observability.HTTPHooks     = (*httpLogHooks)(nil)
	_ observability.PipelineHooks = (*progressHooks)(nil)
)
