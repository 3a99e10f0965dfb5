package nginx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// PromoteResult is the terminal state of a promotion attempt.
type PromoteResult uint8

const (
	Promoted  PromoteResult = iota + 1 // staged config is now live
	Unchanged                          // staged config matched live; nothing replaced
)

// ValidationError carries the nginx -t output for a rejected candidate.
type ValidationError struct {
	Output string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("nginx validation failed: %v\n%s", e.Err, strings.TrimSpace(e.Output))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ReloadError reports a reload signal that failed after promotion.
// The promoted files stay live; nginx picks them up on its next
// reload or restart.
type ReloadError struct {
	Output string
	Err    error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("nginx reload failed: %v\n%s", e.Err, strings.TrimSpace(e.Output))
}

func (e *ReloadError) Unwrap() error { return e.Err }

// Promoter validates staged configuration and makes it live.
type Promoter struct {
	NginxBin        string
	LiveUpstreams   string
	LiveRoutes      string
	ValidateTimeout time.Duration
	ReloadTimeout   time.Duration
}

// Promote validates the staged pair and replaces the live files.
//
// The live configuration is never touched by a candidate that fails
// validation. A promotion whose reload signal fails returns Promoted
// together with a *ReloadError: the files are live and must not be
// rolled back.
func (p *Promoter) Promote(ctx context.Context, staged Staged) (PromoteResult, error) {
	same, err := p.matchesLive(staged)
	if err != nil {
		return 0, err
	}
	if same {
		discard(staged)
		return Unchanged, nil
	}

	if err := p.validate(ctx, staged); err != nil {
		discard(staged)
		return 0, err
	}

	// Staged files live beside the live pair, so each replacement is a
	// single atomic rename. The old upstreams content is held so a
	// failed second rename restores a consistent live pair instead of
	// leaving new upstreams next to old routes.
	oldUpstreams, err := os.ReadFile(p.LiveUpstreams)
	hadUpstreams := err == nil
	if err != nil && !os.IsNotExist(err) {
		discard(staged)
		return 0, fmt.Errorf("read live upstreams file: %w", err)
	}

	if err := os.Rename(staged.UpstreamsFile, p.LiveUpstreams); err != nil {
		discard(staged)
		return 0, fmt.Errorf("promote upstreams file: %w", err)
	}
	if err := os.Rename(staged.RoutesFile, p.LiveRoutes); err != nil {
		p.restoreUpstreams(oldUpstreams, hadUpstreams)
		discard(staged)
		return 0, fmt.Errorf("promote routes file: %w", err)
	}
	_ = os.Remove(staged.WrapperFile)

	if err := p.reload(ctx); err != nil {
		return Promoted, err
	}
	return Promoted, nil
}

func (p *Promoter) validate(ctx context.Context, staged Staged) error {
	ctx, cancel := context.WithTimeout(ctx, p.ValidateTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.NginxBin, "-t", "-c", staged.WrapperFile)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &ValidationError{Output: string(out), Err: err}
	}
	return nil
}

func (p *Promoter) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.ReloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.NginxBin, "-s", "reload")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &ReloadError{Output: string(out), Err: err}
	}
	return nil
}

// matchesLive reports whether the staged pair is byte-identical to the
// live pair. Missing live files never match.
func (p *Promoter) matchesLive(staged Staged) (bool, error) {
	pairs := [][2]string{
		{staged.UpstreamsFile, p.LiveUpstreams},
		{staged.RoutesFile, p.LiveRoutes},
	}
	for _, pair := range pairs {
		stagedData, err := os.ReadFile(pair[0])
		if err != nil {
			return false, fmt.Errorf("read staged file: %w", err)
		}
		liveData, err := os.ReadFile(pair[1])
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("read live file: %w", err)
		}
		if !bytes.Equal(stagedData, liveData) {
			return false, nil
		}
	}
	return true, nil
}

// restoreUpstreams puts the pre-promotion upstreams file back after a
// partial promotion. Best effort: the caller already has the rename
// error to report.
func (p *Promoter) restoreUpstreams(content []byte, existed bool) {
	if !existed {
		_ = os.Remove(p.LiveUpstreams)
		return
	}
	_ = os.WriteFile(p.LiveUpstreams, content, 0o644)
}

func discard(staged Staged) {
	_ = os.Remove(staged.UpstreamsFile)
	_ = os.Remove(staged.RoutesFile)
	_ = os.Remove(staged.WrapperFile)
}
