package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/config"
	"github.com/doublegate/prort-ip/internal/db"
	"github.com/doublegate/prort-ip/internal/discovery"
	"github.com/doublegate/prort-ip/internal/engine"
	"github.com/doublegate/prort-ip/internal/fingerprint"
	"github.com/doublegate/prort-ip/internal/iterator"
	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/matcher"
	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
	"github.com/doublegate/prort-ip/internal/scheduler"
	"github.com/doublegate/prort-ip/internal/service"
	"github.com/doublegate/prort-ip/internal/workers"
)

type scanFlags struct {
	targets       string
	ports         string
	kind          string
	iface         string
	skipDiscovery bool
	zombie        string
	decoys        string
	fragment      bool
	doubleFrag    bool
	mtu           int
	osFingerprint bool
	osDB          string
	serviceDetect bool
	serviceDB     string
	serviceInten  int
	store         bool
	checkpoint    string
}

func newScanCmd() *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a port scan against one or more targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), loadConfig(), f)
		},
	}

	cmd.Flags().StringVarP(&f.targets, "targets", "t", "", "target spec: address, CIDR, range, hostname, or @file (required)")
	cmd.Flags().StringVarP(&f.ports, "ports", "p", "", "port spec, e.g. \"22,80,443,8000-9000\" (default from config)")
	cmd.Flags().StringVarP(&f.kind, "scan-kind", "s", "", "syn|connect|udp|fin|null|xmas|ack|idle (default from config)")
	cmd.Flags().StringVarP(&f.iface, "interface", "i", "", "network interface (default: interface of the default route)")
	cmd.Flags().BoolVar(&f.skipDiscovery, "skip-discovery", false, "treat every target as alive (-Pn)")
	cmd.Flags().StringVar(&f.zombie, "zombie", "", "zombie host address, required for --scan-kind=idle")
	cmd.Flags().StringVar(&f.decoys, "decoys", "", "comma-separated decoy source addresses")
	cmd.Flags().BoolVarP(&f.fragment, "fragment", "f", false, "fragment probes into 8-byte IPv4 fragments")
	cmd.Flags().BoolVar(&f.doubleFrag, "ff", false, "fragment probes into 16-byte IPv4 fragments (heavier than -f)")
	cmd.Flags().IntVar(&f.mtu, "mtu", 0, "explicit fragment MTU in bytes, must be a multiple of 8 (overrides -f/--ff)")
	cmd.Flags().BoolVar(&f.osFingerprint, "os-fingerprint", false, "run OS fingerprinting against discovered hosts")
	cmd.Flags().StringVar(&f.osDB, "os-db", "", "OS fingerprint signature YAML file")
	cmd.Flags().BoolVar(&f.serviceDetect, "service-detect", false, "run service/banner detection on open ports")
	cmd.Flags().StringVar(&f.serviceDB, "service-db", "", "service signature YAML file")
	cmd.Flags().IntVar(&f.serviceInten, "service-intensity", 0, "service probe intensity 0-9 (default from config)")
	cmd.Flags().BoolVar(&f.store, "store", false, "persist results to the configured database")
	cmd.Flags().StringVar(&f.checkpoint, "checkpoint", "", "checkpoint file: resume from it if present, save to it on interrupt")
	_ = cmd.MarkFlagRequired("targets")

	return cmd
}

func runScan(ctx context.Context, cfg *config.Config, f scanFlags) error {
	if f.ports == "" {
		f.ports = cfg.Scanning.DefaultPorts
	}
	if f.kind == "" {
		f.kind = cfg.Scanning.DefaultScanKind
	}
	if f.serviceInten == 0 {
		f.serviceInten = cfg.Scanning.ServiceIntensity
	}

	kind, err := parseScanKind(f.kind)
	if err != nil {
		return err
	}

	targets, err := expandTargets(ctx, f.targets)
	if err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	portSpec, err := parsePortSpec(f.ports)
	if err != nil {
		return fmt.Errorf("ports: %w", err)
	}

	ifaceInfo, err := resolveInterface(f.iface)
	if err != nil {
		return fmt.Errorf("interface: %w", err)
	}
	logging.InfoScan("resolved interface", ifaceInfo.Name, "address", ifaceInfo.Addr, "gateway", ifaceInfo.Gateway)

	needsCapture := kind != scanning.ScanKindConnect
	var cap capture.Handle
	if needsCapture {
		filter, err := capture.BuildFilter(!f.skipDiscovery)
		if err != nil {
			return fmt.Errorf("build capture filter: %w", err)
		}
		eth, err := capture.Open(capture.Config{Interface: ifaceInfo.Name, SnapLen: 65535, Filter: filter})
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer eth.Close()
		cap = eth
	}

	fragMTU, err := resolveFragmentMTU(f)
	if err != nil {
		return err
	}
	if fragMTU > 0 {
		if !needsCapture {
			return fmt.Errorf("fragmentation requires a raw-packet scan kind, not connect")
		}
		cap = capture.NewFragmentingHandle(cap, fragMTU)
	}

	var dstMAC net.HardwareAddr
	if needsCapture {
		gateway := ifaceInfo.Gateway
		if !gateway.IsValid() && len(targets) > 0 {
			gateway = targets[0]
		}
		dstMAC, err = resolveMAC(ctx, cap, ifaceInfo.MAC, ifaceInfo.Addr, gateway, 2*time.Second)
		if err != nil {
			return fmt.Errorf("resolve gateway MAC: %w", err)
		}
	}

	if !f.skipDiscovery {
		targets, err = runDiscovery(ctx, cap, ifaceInfo, dstMAC, targets, cfg)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		logging.InfoScan("discovery complete", ifaceInfo.Name, "alive_hosts", len(targets))
	}
	if len(targets) == 0 {
		fmt.Println("no live targets found")
		return nil
	}

	runStart := time.Now()
	scanKey := randomScanKey()
	var startOffset uint64
	if f.checkpoint != "" {
		if cp, ok := loadCheckpoint(f.checkpoint); ok {
			scanKey = cp.IteratorKey
			startOffset = cp.IteratorOffset
			logging.InfoScan("resuming from checkpoint", f.checkpoint, "offset", startOffset)
		}
	}

	stateful := matcher.NewTable(cfg.Scanning.MatcherTableCeiling)
	defer stateful.Close()
	stateless := matcher.NewStatelessCodec(scanKey)

	sourcePortBase, sourcePortSpan := uint16(20000), uint16(20000)
	deps := &engine.Deps{
		Capture:   cap,
		SrcMAC:    ifaceInfo.MAC,
		DstMAC:    dstMAC,
		SrcAddr:   ifaceInfo.Addr,
		Stateless: stateless,
		Stateful:  stateful,
		SourcePort: func(dst netip.Addr, dstPort uint16) uint16 {
			return stateless.SourcePort(dst, dstPort, sourcePortBase, sourcePortSpan)
		},
	}

	engines, err := buildEngines(kind, deps, f)
	if err != nil {
		return err
	}

	proto := scanning.ProtocolTCP
	if kind == scanning.ScanKindUDP {
		proto = scanning.ProtocolUDP
	}

	it := iterator.New(targets, portSpec, proto, kind, scanKey, startOffset)

	sched := scheduler.New(scheduler.Config{
		Pool:      workers.Config{Size: cfg.Scanning.WorkerPoolSize, QueueSize: cfg.Scanning.WorkerPoolSize * 4, MaxRetries: 2, RetryDelay: 100 * time.Millisecond, ShutdownTimeout: 5 * time.Second},
		Timing:    cfg.GetTiming(),
		CircuitN:  cfg.Scanning.CircuitThreshold,
		Cooldown:  cfg.Scanning.CircuitCooldown,
		RTTMin:    10 * time.Millisecond,
		RTTMax:    10 * time.Second,
		MatchCeil: cfg.Scanning.MatcherTableCeiling,
	}, it, cap, engines, stateful, stateless)
	deps.Await = sched.AwaitReply
	if kind == scanning.ScanKindIdle {
		deps.IPID = probeIPID(deps)
	}

	var repo *db.ResultRepository
	var scanRow *db.Scan
	if f.store {
		repo, scanRow, err = openScanStorage(ctx, cfg, f)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	results := make([]scanning.ScanResult, 0, 1024)
	runner := scanning.NewRunner(sched)
	runErr := runner.Execute(ctx, func(res scanning.ScanResult) {
		results = append(results, res)
		if res.State == scanning.StateOpen || res.State == scanning.StateUnfiltered {
			fmt.Printf("%-16s %-6d %-8s %s\n", res.Identity.DstAddr, res.Identity.DstPort, res.Identity.Protocol, res.State)
		}
	})

	// Execute has returned, so the iterator's producer goroutine has
	// stopped and it.Offset() is safe to read here.
	if f.checkpoint != "" {
		if ctx.Err() != nil {
			saveCheckpoint(f.checkpoint, iterator.Checkpoint{
				IteratorKey:    scanKey,
				IteratorOffset: it.Offset(),
				ElapsedNanos:   uint64(time.Since(runStart)),
				ResultsCount:   uint64(len(results)),
			})
			logging.InfoScan("interrupted, checkpoint saved", f.checkpoint, "offset", it.Offset())
		} else {
			_ = os.Remove(f.checkpoint) // scan finished cleanly, no resume needed
		}
	}

	if f.osFingerprint {
		runOSFingerprint(ctx, deps, f.osDB, targets, results)
	}
	if f.serviceDetect {
		runServiceDetect(ctx, f.serviceDB, f.serviceInten, results)
	}

	if repo != nil {
		if err := persistResults(ctx, repo, scanRow, results); err != nil {
			logging.ErrorScan("persist results failed", f.targets, err)
		}
	}

	return runErr
}

func parseScanKind(s string) (scanning.ScanKind, error) {
	switch strings.ToLower(s) {
	case "syn":
		return scanning.ScanKindSYN, nil
	case "connect":
		return scanning.ScanKindConnect, nil
	case "udp":
		return scanning.ScanKindUDP, nil
	case "fin":
		return scanning.ScanKindFIN, nil
	case "null":
		return scanning.ScanKindNULL, nil
	case "xmas":
		return scanning.ScanKindXmas, nil
	case "ack":
		return scanning.ScanKindACK, nil
	case "idle":
		return scanning.ScanKindIdle, nil
	default:
		return 0, fmt.Errorf("unknown scan kind %q", s)
	}
}

// resolveFragmentMTU applies --mtu/-f/--ff, in that precedence order.
// Returns 0 when no fragmentation was requested.
func resolveFragmentMTU(f scanFlags) (int, error) {
	switch {
	case f.mtu > 0:
		if f.mtu%8 != 0 {
			return 0, fmt.Errorf("--mtu must be a positive multiple of 8, got %d", f.mtu)
		}
		return f.mtu, nil
	case f.doubleFrag:
		return capture.FragmentMTUDouble, nil
	case f.fragment:
		return capture.FragmentMTUSingle, nil
	default:
		return 0, nil
	}
}

func buildEngines(kind scanning.ScanKind, deps *engine.Deps, f scanFlags) (map[scanning.ScanKind]engine.Engine, error) {
	var base engine.Engine
	switch kind {
	case scanning.ScanKindSYN:
		base = engine.NewSYNEngine(deps)
	case scanning.ScanKindConnect:
		base = engine.NewConnectEngine()
	case scanning.ScanKindUDP:
		base = engine.NewUDPEngine(deps)
	case scanning.ScanKindFIN:
		base = engine.NewFINEngine(deps)
	case scanning.ScanKindNULL:
		base = engine.NewNULLEngine(deps)
	case scanning.ScanKindXmas:
		base = engine.NewXmasEngine(deps)
	case scanning.ScanKindACK:
		base = engine.NewACKEngine(deps)
	case scanning.ScanKindIdle:
		if f.zombie == "" {
			return nil, fmt.Errorf("--zombie is required for --scan-kind=idle")
		}
		zombie, err := netip.ParseAddr(f.zombie)
		if err != nil {
			return nil, fmt.Errorf("invalid zombie address %q: %w", f.zombie, err)
		}
		base = engine.NewIdleEngine(deps, zombie)
	default:
		return nil, fmt.Errorf("unsupported scan kind %v", kind)
	}

	if f.decoys != "" {
		var decoyAddrs []netip.Addr
		for _, d := range strings.Split(f.decoys, ",") {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			addr, err := netip.ParseAddr(d)
			if err != nil {
				return nil, fmt.Errorf("invalid decoy address %q: %w", d, err)
			}
			decoyAddrs = append(decoyAddrs, addr)
		}
		if len(decoyAddrs) > 0 {
			base = engine.NewDecoyEngine(base, deps, decoyAddrs)
		}
	}

	return map[scanning.ScanKind]engine.Engine{kind: base}, nil
}

// loadCheckpoint reads a prior run's resume state, if the file exists and
// decodes cleanly. A missing or corrupt file just starts the scan fresh.
func loadCheckpoint(path string) (iterator.Checkpoint, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return iterator.Checkpoint{}, false
	}
	cp, err := iterator.Decode(data)
	if err != nil {
		logging.Warn("ignoring unreadable checkpoint", "path", path, "error", err)
		return iterator.Checkpoint{}, false
	}
	return cp, true
}

func saveCheckpoint(path string, cp iterator.Checkpoint) {
	if err := os.WriteFile(path, iterator.Encode(cp), 0o600); err != nil {
		logging.Error("write checkpoint failed", "path", path, "error", err)
	}
}

func randomScanKey() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}

func runDiscovery(ctx context.Context, cap capture.Handle, ifaceInfo *ifaceInfo, dstMAC net.HardwareAddr, targets []netip.Addr, cfg *config.Config) ([]netip.Addr, error) {
	method, err := parseDiscoveryMethod(cfg.Discovery.Method)
	if err != nil {
		return nil, err
	}

	wait := func(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) bool { return false }
	var cancel context.CancelFunc = func() {}
	if cap != nil {
		var discoCtx context.Context
		discoCtx, cancel = context.WithCancel(ctx)
		awaiter, err := newDiscoveryAwaiter(discoCtx, cap)
		if err != nil {
			cancel()
			return nil, err
		}
		wait = awaiter.Wait
	}
	defer cancel()

	disco := discovery.NewEngine(cap, ifaceInfo.MAC, dstMAC, ifaceInfo.Addr, wait)
	alive, err := disco.Discover(ctx, targets, discovery.Config{
		Method:      method,
		Timeout:     cfg.Discovery.Timeout,
		Concurrency: cfg.Discovery.Concurrency,
		TCPPorts:    cfg.Discovery.TCPPorts,
	})
	cancel() // stop the discovery receive loop before the scheduler starts its own
	return alive, err
}

func parseDiscoveryMethod(s string) (discovery.Method, error) {
	switch strings.ToLower(s) {
	case "arp":
		return discovery.MethodARP, nil
	case "icmp":
		return discovery.MethodICMP, nil
	case "tcp-ping":
		return discovery.MethodTCPPing, nil
	case "all", "":
		return discovery.MethodAll, nil
	default:
		return 0, fmt.Errorf("unknown discovery method %q", s)
	}
}

// probeIPID samples a host's IP-ID by issuing a bare ACK to a closed port
// and reading the RST it typically elicits, satisfying engine.ProbeIPID
// for the idle scan's before/after zombie samples.
func probeIPID(deps *engine.Deps) engine.ProbeIPID {
	return func(ctx context.Context, host netip.Addr, timeout time.Duration) (uint16, bool) {
		const probePort = 1
		srcPort := deps.SourcePort(host, probePort)
		seq := deps.Stateless.Sequence(host, probePort, srcPort, scanning.ProtocolTCP)

		frame, err := packet.BuildTCP(deps.SrcMAC, deps.DstMAC, deps.SrcAddr, host,
			srcPort, probePort, seq, seq+1, packet.TCPFlags{ACK: true}, 1024, nil, nil, packet.BuildOptions{})
		if err != nil {
			return 0, false
		}
		if err := deps.Capture.Send(frame); err != nil {
			return 0, false
		}

		id := scanning.ProbeIdentity{
			SrcAddr: deps.SrcAddr, SrcPort: srcPort,
			DstAddr: host, DstPort: probePort,
			Protocol: scanning.ProtocolTCP, Seq: seq,
		}
		reply, ok := deps.Await(ctx, id, timeout)
		if !ok || !reply.HasIPID {
			return 0, false
		}
		return reply.IPID, true
	}
}

func runOSFingerprint(ctx context.Context, deps *engine.Deps, dbPath string, targets []netip.Addr, results []scanning.ScanResult) {
	if dbPath == "" {
		logging.Warn("os fingerprint requested but --os-db not set, skipping")
		return
	}
	sigDB, err := fingerprint.LoadDatabase(dbPath)
	if err != nil {
		logging.Error("load os signature database failed", "path", dbPath, "error", err)
		return
	}
	detector := fingerprint.NewDetector(sigDB)

	openByHost := map[netip.Addr]uint16{}
	closedByHost := map[netip.Addr]uint16{}
	for _, r := range results {
		if r.State == scanning.StateOpen {
			openByHost[r.Identity.DstAddr] = r.Identity.DstPort
		} else if r.State == scanning.StateClosed {
			closedByHost[r.Identity.DstAddr] = r.Identity.DstPort
		}
	}

	probeDeps := &fingerprint.Deps{Capture: deps.Capture, SrcAddr: deps.SrcAddr, Await: deps.Await}
	for _, host := range targets {
		open, hasOpen := openByHost[host]
		closed, hasClosed := closedByHost[host]
		if !hasOpen || !hasClosed {
			continue
		}
		prober := fingerprint.NewProber(probeDeps, open, closed, 40000)
		matches, _, err := detector.Detect(ctx, prober, host)
		if err != nil {
			logging.ErrorDetection("os fingerprint failed", host.String(), err)
			continue
		}
		if len(matches) > 0 {
			fmt.Printf("%-16s OS guess: %s (%s) confidence=%d\n", host, matches[0].Name, matches[0].Family, matches[0].Confidence)
		}
	}
}

func runServiceDetect(ctx context.Context, dbPath string, intensity int, results []scanning.ScanResult) {
	if dbPath == "" {
		logging.Warn("service detect requested but --service-db not set, skipping")
		return
	}
	data, err := os.ReadFile(dbPath)
	if err != nil {
		logging.Error("read service signature database failed", "path", dbPath, "error", err)
		return
	}
	var sigs []scanning.ServiceSignature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		logging.Error("parse service signature database failed", "path", dbPath, "error", err)
		return
	}
	svcDB, errs := service.NewDatabase(sigs)
	for _, e := range errs {
		logging.Warn("service signature rejected", "error", e)
	}
	detector := service.NewDetector(svcDB)

	for _, r := range results {
		if r.State != scanning.StateOpen {
			continue
		}
		res, err := detector.Detect(ctx, r.Identity.DstAddr, r.Identity.DstPort, r.Identity.Protocol, intensity, "")
		if err != nil || res.Match == nil {
			continue
		}
		fmt.Printf("%-16s %-6d service: %s %s\n", r.Identity.DstAddr, r.Identity.DstPort, res.Match.Name, res.Match.Version)
	}
}

func openScanStorage(ctx context.Context, cfg *config.Config, f scanFlags) (*db.ResultRepository, *db.Scan, error) {
	conn, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	repo := db.NewResultRepository(conn)

	scan := &db.Scan{
		TargetSpec: f.targets,
		PortSpec:   f.ports,
		ScanKind:   f.kind,
		StartedAt:  time.Now(),
	}
	if err := repo.CreateScan(ctx, scan); err != nil {
		return nil, nil, err
	}
	return repo, scan, nil
}

func persistResults(ctx context.Context, repo *db.ResultRepository, scan *db.Scan, results []scanning.ScanResult) error {
	rows := make([]*db.PortResult, 0, len(results))
	for _, r := range results {
		rtt := r.RTT.Microseconds()
		rows = append(rows, &db.PortResult{
			ScanID:     scan.ID,
			Host:       db.IPAddr{IP: net.IP(r.Identity.DstAddr.AsSlice())},
			Port:       int(r.Identity.DstPort),
			Protocol:   r.Identity.Protocol.String(),
			State:      r.State.String(),
			Reason:     r.Reason,
			RTTMicros:  &rtt,
			DetectedAt: r.DetectedAt,
		})
	}
	if err := repo.InsertPortResults(ctx, rows); err != nil {
		return err
	}

	now := time.Now()
	scan.CompletedAt = &now
	scan.ProbesSent = int64(len(results))
	return repo.CompleteScan(ctx, scan)
}
