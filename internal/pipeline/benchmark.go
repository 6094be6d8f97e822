// Package pipeline runs one (record, repetition) through the four stages
// of a benchmark: Fetch, Build, Run and Collect.
//
// Each stage function declares the parameters it consumes in a Manifest
// and receives only those, resolved from the record, the constants and the
// declared defaults. Every stage gets a fresh context exposing the port,
// the record, the artifact directory and the results of earlier stages.
// A stage starts only after the previous one succeeded.
package pipeline

import (
	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/wrappers"
)

type (
	FetchFunc   func(ctx *FetchContext) (*FetchResult, error)
	BuildFunc   func(ctx *BuildContext) (*BuildResult, error)
	RunFunc     func(ctx *RunContext) (*RunResult, error)
	CollectFunc func(ctx *CollectContext) (RecordResult, error)
)

// FetchStep is an optional Fetch stage.
type FetchStep struct {
	Params Manifest
	Func   FetchFunc
}

// BuildStep is an optional Build stage.
type BuildStep struct {
	Params Manifest
	Func   BuildFunc
}

// RunStep is the mandatory Run stage.
type RunStep struct {
	Params Manifest
	Func   RunFunc
}

// CollectStep is an optional Collect stage. Without it the attributes of
// the RunResult become the result fields.
type CollectStep struct {
	Params Manifest
	Func   CollectFunc
}

// Attachment is called with every process the Run stage starts
// asynchronously, e.g. to start a sampler against its pid.
type Attachment struct {
	Name string
	Fn   func(ctx *RunContext, h execport.Handle) error
}

// Benchmark is the set of stage functions of one benchmark, with the
// wrappers and attachments applied to its Run commands.
type Benchmark struct {
	Name        string
	Fetch       *FetchStep
	Build       *BuildStep
	Run         RunStep
	Collect     *CollectStep
	Wrappers    wrappers.Chain
	Attachments []Attachment

	// Valid, when set, filters the points of the space: a point (constants
	// merged with the record) it rejects is never run nor counted.
	Valid func(point params.Record) bool
}

// Accepts reports whether point is a valid experiment point.
func (b *Benchmark) Accepts(point params.Record) bool {
	return b.Valid == nil || b.Valid(point)
}

// Validate checks that every required stage parameter is available from
// the given variable and constant names.
func (b *Benchmark) Validate(variables, constants []string) error {
	if b.Run.Func == nil {
		return params.Configf("benchmark %s: run stage is required", b.Name)
	}

	available := make(map[string]bool, len(variables)+len(constants))
	for _, n := range variables {
		available[n] = true
	}
	for _, n := range constants {
		available[n] = true
	}

	if b.Fetch != nil {
		if b.Fetch.Func == nil {
			return params.Configf("benchmark %s: fetch stage has no function", b.Name)
		}
		if err := b.Fetch.Params.Check(StageFetch, available); err != nil {
			return err
		}
	}
	if b.Build != nil {
		if b.Build.Func == nil {
			return params.Configf("benchmark %s: build stage has no function", b.Name)
		}
		if err := b.Build.Params.Check(StageBuild, available); err != nil {
			return err
		}
	}
	if err := b.Run.Params.Check(StageRun, available); err != nil {
		return err
	}
	if b.Collect != nil {
		if b.Collect.Func == nil {
			return params.Configf("benchmark %s: collect stage has no function", b.Name)
		}
		if err := b.Collect.Params.Check(StageCollect, available); err != nil {
			return err
		}
	}
	for _, a := range b.Attachments {
		if a.Fn == nil {
			return params.Configf("benchmark %s: attachment %s has no function", b.Name, a.Name)
		}
	}
	return nil
}
