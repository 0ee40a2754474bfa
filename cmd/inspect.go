package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/mapview"
	"github.com/sells-group/market-atlas/internal/metric"
)

var (
	inspectVariable string
	inspectZoom     float64
	inspectBBox     string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Run one overlay pass and print the result",
	Long:  "Resolves the level for --zoom, loads geometry and metrics for --bbox, and prints the cache key, legend, and join counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("inspect"); err != nil {
			return err
		}
		bounds, err := parseBBox(inspectBBox)
		if err != nil {
			return err
		}

		env, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		catalog, err := metric.LoadCatalog(ctx, env.Source)
		if err != nil {
			return err
		}

		deps := mapview.Deps{
			Catalog:  catalog,
			Geometry: newBoundaryLoader(cfg.Boundary),
			Source:   env.Source,
		}
		return runInspect(ctx, os.Stdout, deps, overlayOptions(cfg.Overlay), inspectVariable, inspectZoom, bounds)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectVariable, "variable", "", "variable id or key (required)")
	inspectCmd.Flags().Float64Var(&inspectZoom, "zoom", 4, "map zoom level")
	inspectCmd.Flags().StringVar(&inspectBBox, "bbox", "-125,24,-66,50", "viewport as west,south,east,north")
	_ = inspectCmd.MarkFlagRequired("variable")
	rootCmd.AddCommand(inspectCmd)
}

// parseBBox parses "west,south,east,north".
func parseBBox(s string) (geo.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Bounds{}, eris.Errorf("bbox %q: want west,south,east,north", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Bounds{}, eris.Wrapf(err, "bbox %q", s)
		}
		vals[i] = v
	}
	b := geo.Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}
	if !b.Valid() {
		return geo.Bounds{}, eris.Errorf("bbox %q is inverted", s)
	}
	return b, nil
}

// findVariable resolves ref as a numeric id first, then as a key.
func findVariable(c *metric.Catalog, ref string) (metric.Variable, bool) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if v, ok := c.Get(id); ok {
			return v, true
		}
	}
	for _, v := range c.All() {
		if strings.EqualFold(v.Key, ref) {
			return v, true
		}
	}
	return metric.Variable{}, false
}

func runInspect(ctx context.Context, out io.Writer, deps mapview.Deps, opts mapview.Options, ref string, zoom float64, b geo.Bounds) error {
	v, ok := findVariable(deps.Catalog, ref)
	if !ok {
		return eris.Wrapf(mapview.ErrUnknownVariable, "variable %q", ref)
	}

	ctrl := mapview.NewController(deps, opts)
	if _, err := ctrl.SelectVariable(ctx, v.ID); err != nil {
		return err
	}
	lng, lat := b.Center()
	frame, err := ctrl.Update(ctx, geo.Viewport{Zoom: zoom, Lng: lng, Lat: lat, Bounds: b})
	if err != nil {
		return err
	}

	formatFrame(out, frame)
	return nil
}

// formatFrame writes a summary of one overlay pass to out.
func formatFrame(out io.Writer, f mapview.Frame) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Level:\t%s\n", f.Level)
	_, _ = fmt.Fprintf(w, "Hint:\t%s\n", f.ZoomHint)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", f.Status)
	if f.CacheKey != "" {
		_, _ = fmt.Fprintf(w, "Cache key:\t%s\n", f.CacheKey)
	}
	_, _ = fmt.Fprintf(w, "Features:\t%d (%d with data)\n", f.Features, f.Joined)
	if l := f.Legend; l != nil {
		_, _ = fmt.Fprintf(w, "Variable:\t%s (%s)\n", l.Variable, l.Unit)
		if l.Vendor != "" {
			_, _ = fmt.Fprintf(w, "Source:\t%s\n", l.Vendor)
		}
		_, _ = fmt.Fprintf(w, "Range:\t%s to %s\n", l.Min, l.Max)
		if l.Date != "" {
			_, _ = fmt.Fprintf(w, "Date:\t%s\n", l.Date)
		}
	}
	for _, n := range f.Notices {
		_, _ = fmt.Fprintf(w, "Notice:\t%s\n", n)
	}
	_, _ = fmt.Fprintf(w, "Ops:\t%d\n", len(f.Ops))
	_ = w.Flush()
}
