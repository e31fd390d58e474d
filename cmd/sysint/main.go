// Command sysint drives a simulated board's interrupt controller: it resolves
// bus interrupts, connects devices, posts inter-processor interrupts and
// exercises the enable/disable gates from every processor at once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tinyrange/sysint/internal/machine"
	"github.com/tinyrange/sysint/internal/platform"
	"github.com/tinyrange/sysint/internal/sysint"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sysint: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	board := flag.String("platform", "jazz", "Built-in board ("+strings.Join(platform.Boards(), ", ")+")")
	configPath := flag.String("config", "", "Board description YAML (overrides -platform)")
	windowPath := flag.String("window", "", "UIO node or register file to mirror the enable and IPI registers into")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  resolve <interface> <bus> <level> <vector>  map a bus interrupt to a system vector\n")
		fmt.Fprintf(os.Stderr, "  connect [device...]                         connect board devices (all when none named)\n")
		fmt.Fprintf(os.Stderr, "  ipi <cpu>...                                post an IPI to the listed processors\n")
		fmt.Fprintf(os.Stderr, "  stress [-n rounds]                          toggle vectors from every processor concurrently\n")
		fmt.Fprintf(os.Stderr, "  config                                      print the effective board description\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("command required")
	}

	cfg, err := loadConfig(*board, *configPath)
	if err != nil {
		return err
	}

	cmd, args := args[0], args[1:]
	if cmd == "config" {
		return printConfig(cfg)
	}

	var opts []machine.Option
	if *windowPath != "" {
		rw, err := machine.OpenRegisterWindows(cfg, *windowPath)
		if err != nil {
			return err
		}
		defer rw.Close()
		slog.Debug("register windows mapped", "path", *windowPath, "regions", rw.Regions())
		opts = append(opts, machine.WithMirrors(rw.Mirrors()...))
	}

	m, err := machine.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("bring up %s: %w", cfg.Name, err)
	}

	switch cmd {
	case "resolve":
		return runResolve(m, args)
	case "connect":
		return runConnect(m, args)
	case "ipi":
		return runIPI(m, args)
	case "stress":
		return runStress(context.Background(), m, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(board, path string) (*platform.Config, error) {
	if path != "" {
		return platform.Load(path)
	}
	cfg, err := platform.Default(board)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printConfig(cfg *platform.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func parseUint32(name, s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return uint32(v), nil
}

func runResolve(m *machine.Machine, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("resolve: want <interface> <bus> <level> <vector>")
	}
	t, err := sysint.ParseInterfaceType(args[0])
	if err != nil {
		return err
	}
	var nums [3]uint32
	for i, name := range []string{"bus", "level", "vector"} {
		if nums[i], err = parseUint32(name, args[i+1]); err != nil {
			return err
		}
	}

	r := m.Resolver().ResolveInterrupt(sysint.BusInterrupt{
		Interface: t,
		BusNumber: nums[0],
		Level:     nums[1],
		Vector:    nums[2],
	})
	if !r.Present() {
		fmt.Printf("%v bus %d: not present\n", t, nums[0])
		return nil
	}

	tbl := newTable("INTERFACE", "BUS", "LEVEL", "VECTOR", "SYSTEM VECTOR", "IRQL", "AFFINITY")
	tbl.add(t.String(), args[1], args[2], args[3],
		strconv.Itoa(int(r.Vector)), r.Level.String(), r.Affinity.String())
	return tbl.write(os.Stdout)
}

func runConnect(m *machine.Machine, names []string) error {
	if len(names) == 0 {
		if _, err := m.ConnectAll(); err != nil {
			return err
		}
	} else {
		byName := make(map[string]platform.DeviceSpec, len(m.Config().Devices))
		for _, d := range m.Config().Devices {
			byName[d.Name] = d
		}
		for _, name := range names {
			spec, ok := byName[name]
			if !ok {
				return fmt.Errorf("connect: %s has no device %q", m.Config().Name, name)
			}
			if _, err := m.Connect(spec); err != nil {
				return err
			}
		}
	}

	tbl := newTable("DEVICE", "INTERFACE", "LEVEL", "VECTOR", "MODE", "IRQL", "AFFINITY")
	for _, c := range m.Connections() {
		tbl.add(c.Name, c.Interrupt.Interface.String(),
			strconv.Itoa(int(c.Interrupt.Level)), strconv.Itoa(int(c.Vector)),
			c.Mode.String(), c.Level.String(), c.Affinity.String())
	}
	if err := tbl.write(os.Stdout); err != nil {
		return err
	}
	pm, sm := m.EISA().Masks()
	pl, sl := m.EISA().Levels()
	fmt.Printf("\nenable=%#04x eisa-mask=%#02x/%#02x eisa-elcr=%#02x/%#02x\n",
		m.Controller().Mask(), pm, sm, pl, sl)
	return nil
}

func runIPI(m *machine.Machine, args []string) error {
	if !m.IPI().Available() {
		return errors.New("ipi: board has no inter-processor interrupt facility")
	}
	if len(args) == 0 {
		return errors.New("ipi: want at least one processor number")
	}
	var targets sysint.Affinity
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil || id < 0 || id >= 32 {
			return fmt.Errorf("ipi: invalid processor %q", a)
		}
		targets |= 1 << id
	}

	hit := m.RequestIPI(targets)
	slog.Debug("ipi: posted", "targets", targets.String(), "interrupted", len(hit))

	tbl := newTable("CPU", "TARGETED", "PENDING", "POSTED")
	for _, p := range m.Processors().All() {
		tbl.add(strconv.Itoa(p.ID()),
			strconv.FormatBool(targets.Contains(p.ID())),
			strconv.FormatBool(p.IPIPending()),
			strconv.FormatUint(p.IPICount(), 10))
	}
	if err := tbl.write(os.Stdout); err != nil {
		return err
	}
	if r := m.IPIRegister(); r != nil && r.Dropped() != 0 {
		fmt.Printf("\n%d request(s) named absent processors\n", r.Dropped())
	}
	return nil
}
