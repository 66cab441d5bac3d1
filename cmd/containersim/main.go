// Command containersim is a demonstration and smoke-test harness for the
// container isolation core: it wires up a cgroup engine, a PID namespace
// registry, and an IPC namespace registry over pkg/simhost's reference
// scheduler, runs a configurable number of simulated ticks with a set of
// synthetic CPU-bound tasks, and prints the resulting accounting state as a
// table.
//
// It is not the embedded system's shell front end (that parses a
// user-facing command protocol over a serial line and lives outside this
// core); it is a host-side reporting binary.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/cgroup"
	"github.com/was-saw/freertos-container/pkg/container"
	"github.com/was-saw/freertos-container/pkg/ipcns"
	"github.com/was-saw/freertos-container/pkg/kernel"
	"github.com/was-saw/freertos-container/pkg/pidns"
	"github.com/was-saw/freertos-container/pkg/simhost"
	"github.com/was-saw/freertos-container/pkg/types"
)

type ipcObject struct{ id int }

type opts struct {
	ticks       int
	quotaHigh   uint64
	quotaLow    uint64
	windowTicks uint64
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "containersim",
		Short: "Simulate the container isolation core over synthetic tasks",
		Long: `containersim drives the cgroup, PID-namespace, and IPC-namespace
registries through a fixed number of simulated scheduler ticks and reports
the resulting CPU/memory accounting, so the core's behaviour can be observed
without a real cooperative-kernel target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	root.Flags().IntVarP(&o.ticks, "ticks", "t", 1000, "number of simulated scheduler ticks to run")
	root.Flags().Uint64Var(&o.quotaHigh, "quota-high", 300, "CPU quota in ticks/window for the 'high' cgroup")
	root.Flags().Uint64Var(&o.quotaLow, "quota-low", 20, "CPU quota in ticks/window for the 'low' cgroup")
	root.Flags().Uint64Var(&o.windowTicks, "window", 1000, "cgroup accounting window, in ticks")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(o opts) error {
	limits := container.DefaultLimits()
	limits.CgroupWindowTicks = o.windowTicks

	host := simhost.NewHost()
	cg := cgroup.New(limits.MaxCgroups, limits.MaxCgroupTaskSlots, limits.CgroupWindowTicks, host, nil)
	pid := pidns.New(limits.MaxPidNamespaces, limits.MaxVirtualPIDPerNS, host, nil)
	ipc := ipcns.New[*ipcObject](limits.MaxIpcNamespaces, limits.MaxIpcObjectsPerNS, host, nil)
	hooks := kernel.New[*ipcObject](host, cg, pid, ipc, nil)

	high, err := cg.Create(host.TickCount(), "high", types.Unlimited, o.quotaHigh)
	if err != nil {
		return fmt.Errorf("create high cgroup: %w", err)
	}
	low, err := cg.Create(host.TickCount(), "low", types.Unlimited, o.quotaLow)
	if err != nil {
		return fmt.Errorf("create low cgroup: %w", err)
	}

	taskHigh := host.Spawn()
	taskLow := host.Spawn()
	if err := cg.AddTask(high, taskHigh); err != nil {
		return fmt.Errorf("bind high task: %w", err)
	}
	if err := cg.AddTask(low, taskLow); err != nil {
		return fmt.Errorf("bind low task: %w", err)
	}

	dispatched := map[string]int{"high": 0, "low": 0}
	for i := 0; i < o.ticks; i++ {
		host.Advance()

		var ran binding.TaskID
		var name string
		switch {
		case hooks.CanDispatch(taskHigh):
			ran, name = taskHigh, "high"
		case hooks.CanDispatch(taskLow):
			ran, name = taskLow, "low"
		default:
			ran, name = 0, ""
		}
		if name != "" {
			dispatched[name]++
		}
		host.SetCurrent(ran)
		hooks.OnTick()
	}

	printReport(cg, high, low, dispatched)
	return nil
}

func printReport(cg *cgroup.Engine, high, low cgroup.Handle, dispatched map[string]int) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CGROUP\tQUOTA\tTICKS_USED\tPENALTY_LEFT\tDISPATCHED")
	fmt.Fprintln(tw, "------\t-----\t----------\t------------\t----------")
	rows := []struct {
		name string
		h    cgroup.Handle
	}{{"high", high}, {"low", low}}
	for _, row := range rows {
		st, err := cg.Stats(row.h)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", row.name, st.CPUQuota, st.TicksUsed, st.PenaltyTicksLeft, dispatched[row.name])
	}
	tw.Flush()
}
