package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/sysint/internal/machine"
	"github.com/tinyrange/sysint/internal/sysint"
)

// runStress gives every processor its own built-in vector and has them all
// enable and disable it at once. On boards with an IPI register each round
// also interrupts the next processor. The enable register must end with
// exactly the owned vectors set.
func runStress(ctx context.Context, m *machine.Machine, args []string) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	rounds := fs.Int("n", 10000, "Enable/disable rounds per processor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rounds <= 0 {
		return fmt.Errorf("stress: invalid round count %d", *rounds)
	}

	cfg := m.Config()
	procs := m.Processors().All()
	width := int(cfg.MaximumBuiltinVector - cfg.DeviceVectors)
	if len(procs) > width {
		procs = procs[:width]
	}

	var bar *progressbar.ProgressBar
	if isTerminal(os.Stderr) {
		bar = progressbar.Default(int64(*rounds*len(procs)), "stress")
		defer bar.Close()
	}

	var want uint16
	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range procs {
		v := sysint.Vector(cfg.DeviceVectors + 1 + uint32(p.ID()))
		want |= 1 << p.ID()
		gate, err := m.Gate(p.ID())
		if err != nil {
			return err
		}
		next := sysint.Affinity(1) << ((p.ID() + 1) % len(procs))

		eg.Go(func() error {
			for i := 0; i < *rounds; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				gate.Enable(v, cfg.DeviceLevel, sysint.Latched)
				if m.IPI().Available() {
					m.IPI().Request(next)
				}
				gate.Disable(v, cfg.DeviceLevel)
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			gate.Enable(v, cfg.DeviceLevel, sysint.Latched)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	elapsed := time.Since(start)

	got := m.InterruptBlock().Enabled()
	slog.Info("stress: done",
		"processors", len(procs),
		"rounds", *rounds,
		"elapsed", elapsed,
		"enable-writes", m.InterruptBlock().Writes())

	tbl := newTable("CPU", "VECTOR", "IPIS", "LEVEL")
	for _, p := range procs {
		tbl.add(fmt.Sprint(p.ID()), fmt.Sprint(cfg.DeviceVectors+1+uint32(p.ID())),
			fmt.Sprint(p.IPICount()), p.Level().String())
	}
	if err := tbl.write(os.Stdout); err != nil {
		return err
	}

	if got != want {
		return fmt.Errorf("stress: enable register %#04x, want %#04x", got, want)
	}
	fmt.Printf("\nenable=%#04x ok\n", got)
	return nil
}
