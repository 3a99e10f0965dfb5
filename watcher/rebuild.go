package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gantry"
	"gantry/nginx"
	"gantry/route"
	"gantry/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Rebuilder runs one full-rebuild pass: list every running container
// on the network, extract routes, render, validate, promote. Always
// the whole fleet, never an incremental patch — full rebuilds converge
// regardless of event ordering and can never leave orphaned config
// entries behind.
type Rebuilder struct {
	Source    Source
	Generator Generator
	Promoter  Promoter
	Journal   Journal      // optional
	Tracer    trace.Tracer // optional
}

// Rebuild runs one pass to completion. It never returns an error: a
// failed pass is a report with a failed outcome, and the previous live
// configuration stays in effect.
func (r *Rebuilder) Rebuild(ctx context.Context, trigger string) (gantry.PassReport, []gantry.Route) {
	report := gantry.PassReport{
		StartedAt: time.Now(),
		Trigger:   trigger,
	}

	op := telemetry.Begin(ctx, r.Tracer, "gantry.rebuild",
		attribute.String(telemetry.TriggerKey, trigger))

	var routes []gantry.Route
	err := op.RunStep(op.Context(), "extract", func(ctx context.Context) error {
		containers, err := r.Source.Containers(ctx)
		if err != nil {
			return err
		}
		var errs []error
		routes, report.Skipped, errs = route.FromContainers(containers)
		for _, extractErr := range errs {
			slog.Warn("container excluded from routing", "err", extractErr)
		}
		return nil
	})
	if err != nil {
		return r.finish(ctx, op, report, nil, err)
	}
	if routes == nil {
		// Non-nil even when the network is empty: a nil route set from
		// Rebuild means "live config not replaced, keep the old set".
		routes = []gantry.Route{}
	}
	report.Routes = len(routes)

	var staged nginx.Staged
	err = op.RunStep(op.Context(), "generate", func(context.Context) error {
		var genErr error
		staged, genErr = r.Generator.Generate(routes)
		return genErr
	})
	if err != nil {
		return r.finish(ctx, op, report, nil, err)
	}

	var result nginx.PromoteResult
	err = op.RunStep(op.Context(), "promote", func(ctx context.Context) error {
		var promoteErr error
		result, promoteErr = r.Promoter.Promote(ctx, staged)
		return promoteErr
	})

	var reloadErr *nginx.ReloadError
	switch {
	case errors.As(err, &reloadErr):
		// Config is live; nginx picks it up on its next reload.
		report.Outcome = gantry.PassPromoted
		report.Detail = reloadErr.Error()
		err = nil
	case err != nil:
		return r.finish(ctx, op, report, routes, err)
	case result == nginx.Unchanged:
		report.Outcome = gantry.PassUnchanged
	default:
		report.Outcome = gantry.PassPromoted
	}

	return r.finish(ctx, op, report, routes, nil)
}

func (r *Rebuilder) finish(ctx context.Context, op *telemetry.Operation, report gantry.PassReport, routes []gantry.Route, err error) (gantry.PassReport, []gantry.Route) {
	if err != nil {
		var validationErr *nginx.ValidationError
		if errors.As(err, &validationErr) {
			report.Outcome = gantry.PassDiscarded
		} else {
			report.Outcome = gantry.PassFailed
		}
		report.Detail = err.Error()
		// The live config was not replaced; the previously materialized
		// route set is still the active one.
		routes = nil
	}
	report.Duration = time.Since(report.StartedAt)

	op.SetAttributes(
		attribute.Int(telemetry.RoutesKey, report.Routes),
		attribute.String(telemetry.OutcomeKey, report.Outcome.String()),
	)
	op.End(err)

	if report.Failed() {
		slog.Error("rebuild pass failed",
			"trigger", report.Trigger,
			"outcome", report.Outcome.String(),
			"detail", report.Detail)
	} else {
		slog.Info("rebuild pass complete",
			"trigger", report.Trigger,
			"outcome", report.Outcome.String(),
			"routes", report.Routes,
			"skipped", report.Skipped,
			"duration", report.Duration)
	}

	if r.Journal != nil {
		if journalErr := r.Journal.RecordPass(ctx, report); journalErr != nil {
			slog.Warn("journal write failed", "err", journalErr)
		}
	}
	return report, routes
}
