package cmds

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/kdstub/pkg/config"
	"github.com/go-delve/kdstub/pkg/gdbstub"
	"github.com/go-delve/kdstub/pkg/logflags"
	"github.com/go-delve/kdstub/pkg/monitor"
	"github.com/go-delve/kdstub/pkg/target"
	"github.com/go-delve/kdstub/pkg/transport"
	"github.com/go-delve/kdstub/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// transportKind selects the link to the remote debugger.
	transportKind string
	// device is the serial device used by the serial transport.
	device string
	// baud is the serial line speed.
	baud int
	// listenAddr is the address the tcp transport listens on.
	listenAddr string

	// snapshotPath is the machine snapshot to load.
	snapshotPath string
	// imagePath is a kernel image to load when there is no snapshot.
	imagePath string
	// imageBase is the address the kernel image is relocated to.
	imageBase uint64
	// ncpu is the number of CPUs of a machine built without a snapshot.
	ncpu int
	// initFile is the path to initialization file.
	initFile string

	// console runs the monitor on the link instead of the terminal.
	console bool
	// dropToMonitor starts the prompt when the remote debugger kills the
	// session.
	dropToMonitor bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kdstubCommandLongDesc = `kdstub is the target side of a kernel debugger.

It holds a halted machine (the saved registers of every CPU, the kernel
address space and the kernel image) and answers a remote debugger speaking
the GDB Remote Serial Protocol over a serial line, a TCP connection, a
pseudo-terminal or standard input/output.

Load a machine with --snapshot, or with --image for a bare kernel image, then
either serve the remote debugger directly:

` + "`kdstub serve --snapshot crash.yml --transport tcp --listen :1234`" + `

or inspect the machine from the kernel debugger prompt and hand control to
the remote debugger with its 'gdb' command:

` + "`kdstub monitor --snapshot crash.yml`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()
	return newRootCommand()
}

func newRootCommand() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "kdstub",
		Short: "kdstub is a GDB remote stub for a halted kernel.",
		Long:  kdstubCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable stub logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kdstub help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kdstub help log').")

	rootCommand.PersistentFlags().StringVarP(&transportKind, "transport", "t", string(transport.TCP), `Link to the remote debugger (see 'kdstub help transport').`)
	rootCommand.PersistentFlags().StringVar(&device, "device", "", "Serial device, for the serial transport.")
	rootCommand.PersistentFlags().IntVar(&baud, "baud", transport.DefaultBaud, "Serial line speed, for the serial transport.")
	rootCommand.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:0", "Listen address, for the tcp transport.")

	rootCommand.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Machine snapshot to load.")
	rootCommand.PersistentFlags().StringVar(&imagePath, "image", "", "Kernel image (i386 ELF) to load when no snapshot is given.")
	rootCommand.PersistentFlags().Uint64Var(&imageBase, "image-base", 0, "Address the kernel image is relocated to, 0 for its link address.")
	rootCommand.PersistentFlags().IntVar(&ncpu, "cpus", 1, "Number of CPUs of a machine loaded without a snapshot.")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serve a remote debugger until it kills the session.",
		Long: `Opens the link to the remote debugger and answers its requests until it
sends a kill request.

Point the remote debugger at the address printed on startup, for example:

	(gdb) target remote 127.0.0.1:1234
`,
		Run: serveCmd,
	}
	serveCommand.Flags().BoolVar(&dropToMonitor, "monitor", false, "Start the kernel debugger prompt after the remote debugger kills the session.")
	rootCommand.AddCommand(serveCommand)

	// 'monitor' subcommand.
	monitorCommand := &cobra.Command{
		Use:   "monitor",
		Short: "Start the kernel debugger prompt.",
		Long: `Starts the kernel debugger prompt on the terminal.

The 'gdb' command opens the link to the remote debugger and hands control to
it, the prompt returns when the remote debugger kills the session.

With --console the prompt runs on the link itself, like the console of a
stopped kernel. A remote debugger attaching to the console takes over as
soon as it sends its first packet.`,
		Run: monitorCmd,
	}
	monitorCommand.Flags().BoolVar(&console, "console", false, "Run the prompt on the link instead of the terminal.")
	monitorCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the prompt.")
	rootCommand.AddCommand(monitorCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kdstub\n%s\n", version.KdstubVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "transport",
		Short: "Help about the --transport flag.",
		Long: `The --transport flag specifies how the remote debugger reaches the stub,
possible values are:

	tcp		Accepts one connection on the --listen address.
	serial		Uses the serial line --device at --baud.
	pty		Creates a pseudo-terminal and prints the name of its slave side.
	stdio		Uses standard input and output.

Defaults for these flags can be set in the transport section of
$HOME/.kdstub/config.yml.
`})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	stub		Log protocol state transitions and dispatched commands
	gdbwire		Log every packet exchanged with the remote debugger
	transport	Log opening and closing of links
	monitor		Log the kernel debugger prompt
	target		Log snapshot and kernel image loading

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func serveCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, func(m *target.Machine) int {
		link, err := transport.Open(transportConfig(cmd.Flags()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer link.Close()
		go closeOnInterrupt(link)

		if err := gdbstub.New(link, m).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stderr, "remote debugger killed the session")
		if !dropToMonitor {
			return 0
		}
		mon := monitor.New(monitor.Config{
			Machine: m,
			Conf:    conf,
			// gdb resumes the session on the same link
			OpenLink: func() (monitor.Link, error) { return link, nil },
		})
		status, err := mon.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}))
}

func monitorCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, func(m *target.Machine) int {
		tc := transportConfig(cmd.Flags())
		mcfg := monitor.Config{Machine: m, Conf: conf}
		if console {
			link, err := transport.Open(tc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return 1
			}
			defer link.Close()
			mcfg.Console = link
		} else {
			mcfg.OpenLink = func() (monitor.Link, error) {
				link, err := transport.Open(tc)
				if err != nil {
					return nil, err
				}
				return link, nil
			}
		}
		mon := monitor.New(mcfg)
		mon.InitFile = initFile
		status, err := mon.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}))
}

// execute sets up logging and loads the machine before calling run.
func execute(cmd *cobra.Command, run func(m *target.Machine) int) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	m, err := loadMachine(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load machine: %v\n", err)
		return 1
	}
	return run(m)
}

// loadMachine builds the machine from the snapshot, or from a kernel
// image, named on the command line or in the config file.
func loadMachine(flags *pflag.FlagSet) (*target.Machine, error) {
	snap, img, base := snapshotPath, imagePath, imageBase
	if flags.Changed("snapshot") && flags.Changed("image") {
		return nil, errors.New("--snapshot and --image are mutually exclusive")
	}
	if !flags.Changed("snapshot") && !flags.Changed("image") {
		snap, img = conf.Snapshot, conf.Image
	}
	if !flags.Changed("image-base") {
		base = conf.ImageBase
	}
	if snap != "" {
		return target.LoadSnapshot(snap)
	}
	m := target.NewMachine(ncpu)
	if img != "" {
		image, err := target.LoadImage(img, base, m.Memory)
		if err != nil {
			return nil, err
		}
		m.Image = image
	}
	return m, nil
}

// transportConfig merges the transport flags with the defaults from the
// config file. Flags set on the command line win.
func transportConfig(flags *pflag.FlagSet) transport.Config {
	tc := transport.Config{
		Kind:     transport.Kind(transportKind),
		Device:   device,
		Baud:     baud,
		Listen:   listenAddr,
		Announce: os.Stderr,
	}
	fc := conf.Transport
	if !flags.Changed("transport") && fc.Kind != "" {
		tc.Kind = transport.Kind(fc.Kind)
	}
	if !flags.Changed("device") && fc.Device != "" {
		tc.Device = fc.Device
	}
	if !flags.Changed("baud") && fc.Baud != 0 {
		tc.Baud = fc.Baud
	}
	if !flags.Changed("listen") && fc.Listen != "" {
		tc.Listen = fc.Listen
	}
	return tc
}

// closeOnInterrupt closes the link on SIGINT, which ends a session
// blocked waiting for the remote debugger.
func closeOnInterrupt(link *transport.Link) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	<-ch
	signal.Stop(ch)
	link.Close()
}
