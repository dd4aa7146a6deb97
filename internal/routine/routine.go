package routine

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
)

// ErrStopped is returned by a LogFunc once the operator asked the job to
// stop. Routines must return it (wrapped or not) without further work.
var ErrStopped = errors.New("stopped by user")

// LogFunc delivers one progress line to whoever watches the job. A non-nil
// error means the routine has to stop.
type LogFunc func(msg string) error

// Func is the calling contract of every routine. The output spreadsheet must
// be written to outputPath if and only if the routine completed meaningfully.
// log is nil for routines which do not declare Streams.
type Func func(ctx context.Context, inputPath, outputPath string, cfg Config, log LogFunc) error

// Routine is one catalog entry.
type Routine struct {
	Name          string
	Description   string
	DefaultURL    string
	Label         string
	RequiresInput bool
	// Streams tells the runner to pass a LogFunc
	Streams bool
	// Columns of the input template
	Columns []string
	Run     Func
}

// Catalog is a static registry of routines keyed by name.
type Catalog struct {
	routines map[string]Routine
}

func NewCatalog(routines ...Routine) *Catalog {
	c := &Catalog{routines: make(map[string]Routine, len(routines))}
	for _, r := range routines {
		c.routines[r.Name] = r
	}
	return c
}

// Lookup finds a routine by name. A trailing ".py" is ignored, so names used
// by older clients still resolve.
func (c *Catalog) Lookup(name string) (Routine, bool) {
	r, ok := c.routines[strings.TrimSuffix(name, ".py")]
	return r, ok
}

// List returns all routines sorted by name.
func (c *Catalog) List() []Routine {
	ret := make([]Routine, 0, len(c.routines))
	for _, r := range c.routines {
		ret = append(ret, r)
	}
	slices.SortFunc(ret, func(a, b Routine) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return ret
}

// Builtin returns the catalog of all routines shipped with the tool.
func Builtin(opts Options) *Catalog {
	return NewCatalog(
		AddTags(opts),
		UpdateFarmerName(opts),
		BulkDeleteFarmers(opts),
		AreaAuditRemoval(opts),
		PlotRiskEnablement(opts),
		EnableOrDisableUser(opts),
		UpdateFarmerAttributes(opts),
	)
}
