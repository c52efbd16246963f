// Package prober performs the actual network checks: HTTP GET probes and
// ICMP probes via the platform ping utility.
package prober

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/iRazvan2745/Storm/internal/model"
)

// Prober runs checks against targets. It is safe for concurrent use; the
// per-target schedulers share one instance.
type Prober struct {
	agentName string
	httpc     *http.Client
}

// New creates a Prober. agentName is embedded in the HTTP User-Agent so
// probed services can identify the monitoring traffic.
func New(agentName string) *Prober {
	return &Prober{
		agentName: agentName,
		// Per-check deadlines come from the target's timeout, applied via
		// request contexts rather than a client-wide timeout.
		httpc: &http.Client{},
	}
}

// Check probes the target once and returns the result. The returned
// CheckResult always carries the target id and a timestamp taken at the
// start of the probe; AgentID is filled in by the caller.
func (p *Prober) Check(ctx context.Context, t model.Target) model.CheckResult {
	res := model.CheckResult{
		TargetID:  t.ID,
		Timestamp: model.NowMs(),
	}

	switch t.Kind {
	case model.TargetKindICMP:
		p.checkICMP(ctx, t, &res)
	default:
		p.checkHTTP(ctx, t, &res)
	}
	return res
}

// checkHTTP issues a GET and treats any 2xx/3xx response within the timeout
// as success. Timeouts synthesise a 408 status; transport errors report 0.
func (p *Prober) checkHTTP(ctx context.Context, t model.Target, res *model.CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.Timeout)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		res.Error = fmt.Sprintf("invalid url: %v", err)
		return
	}
	req.Header.Set("User-Agent", "Storm/"+p.agentName)

	start := time.Now()
	resp, err := p.httpc.Do(req)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			res.StatusCode = http.StatusRequestTimeout
			res.Error = fmt.Sprintf("timeout after %dms", t.Timeout)
		} else {
			res.StatusCode = 0
			res.Error = err.Error()
		}
		return
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		res.Success = true
		res.ResponseTime = elapsed
	} else {
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
}

// rttPattern matches the round-trip time in ping output, e.g. "time=12.3 ms"
// on Linux/macOS or "time=12ms" / "time<1ms" on Windows.
var rttPattern = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)

// checkICMP shells out to the platform ping utility for a single echo.
// Success is exit code 0. The round-trip time is parsed from stdout when
// possible, otherwise the wall-clock elapsed time is used.
func (p *Prober) checkICMP(ctx context.Context, t model.Target, res *model.CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.Timeout)*time.Millisecond)
	defer cancel()

	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", strconv.FormatInt(t.Timeout, 10), t.Host}
	} else {
		secs := int64(math.Ceil(float64(t.Timeout) / 1000))
		if secs < 1 {
			secs = 1
		}
		args = []string{"-c", "1", "-W", strconv.FormatInt(secs, 10), t.Host}
	}

	start := time.Now()
	out, err := exec.CommandContext(ctx, "ping", args...).Output()
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("ping timeout after %dms", t.Timeout)
		} else {
			res.Error = fmt.Sprintf("ping failed: %v", err)
		}
		return
	}

	res.Success = true
	res.ResponseTime = elapsed
	if m := rttPattern.FindSubmatch(out); m != nil {
		if rtt, perr := strconv.ParseFloat(string(m[1]), 64); perr == nil {
			res.ResponseTime = rtt
		}
	}
}
