package report

import (
	"io"
	"strconv"
	"time"

	"github.com/google/pprof/profile"

	"github.com/grafana/backtrace/pkg/symtab"
)

// Pprof writes a gzipped pprof profile with one sample per thread. Frames
// become locations, leaf first, so the profile opens as a thread dump in
// any pprof viewer.
type Pprof struct {
	Now func() time.Time
}

func (p Pprof) Write(out io.Writer, traces []ThreadTrace) error {
	return p.Profile(traces).Write(out)
}

func (p Pprof) Profile(traces []ThreadTrace) *profile.Profile {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "threads", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "threads", Unit: "count"},
		Period:     1,
		TimeNanos:  now().UnixNano(),
	}
	b := &pprofBuilder{
		prof:      prof,
		mappings:  make(map[string]*profile.Mapping),
		functions: make(map[string]*profile.Function),
		locations: make(map[uint64]*profile.Location),
	}
	for _, tt := range traces {
		s := &profile.Sample{
			Value:    []int64{1},
			Label:    map[string][]string{"thread": {threadLabel(tt)}},
			NumLabel: map[string][]int64{"tid": {int64(tt.Thread)}},
		}
		for _, f := range tt.Frames {
			s.Location = append(s.Location, b.location(f))
		}
		prof.Sample = append(prof.Sample, s)
	}
	return prof
}

func threadLabel(tt ThreadTrace) string {
	if tt.Main {
		return "main"
	}
	return strconv.FormatUint(uint64(tt.Thread), 10)
}

type pprofBuilder struct {
	prof      *profile.Profile
	mappings  map[string]*profile.Mapping
	functions map[string]*profile.Function
	locations map[uint64]*profile.Location
}

func (b *pprofBuilder) location(f symtab.SymbolMatch) *profile.Location {
	addr := f.Address + f.Offset
	if loc, ok := b.locations[addr]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(b.prof.Location) + 1),
		Address: addr,
		Mapping: b.mapping(f.Image),
		Line:    []profile.Line{{Function: b.function(f.Symbol, f.Image)}},
	}
	b.locations[addr] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}

func (b *pprofBuilder) mapping(image string) *profile.Mapping {
	if m, ok := b.mappings[image]; ok {
		return m
	}
	m := &profile.Mapping{
		ID:           uint64(len(b.prof.Mapping) + 1),
		File:         image,
		HasFunctions: true,
	}
	b.mappings[image] = m
	b.prof.Mapping = append(b.prof.Mapping, m)
	return m
}

func (b *pprofBuilder) function(name, image string) *profile.Function {
	key := image + "\x00" + name
	if fn, ok := b.functions[key]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(b.prof.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   image,
	}
	b.functions[key] = fn
	b.prof.Function = append(b.prof.Function, fn)
	return fn
}
