package devices

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"tapedeck/internal/logging"
)

// Event is a sound-device removal seen on the udev netlink socket.
type Event struct {
	Action  string
	DevPath string
}

// Monitor watches udev for sound hardware disappearing mid-recording. The
// manager treats a removal as a capture failure rather than letting ffmpeg
// stall on a dead device.
type Monitor struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewMonitor builds an unstarted monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{logger: logging.WithComponent(logger, "device-monitor")}
}

// Start connects to the udev socket and delivers removal events to out until
// ctx ends or Stop is called. A connection failure is non-fatal: recordings
// still work, they just lose early unplug detection.
func (m *Monitor) Start(ctx context.Context, out chan<- Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("udev connect failed; unplug detection disabled",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "netlink sockets may need elevated permissions"))
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.quit, out)
	m.logger.Debug("device monitor started")
	return nil
}

// Stop disconnects the monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the monitor is connected.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, quit <-chan struct{}, out chan<- Event) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, soundRemovalMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			select {
			case out <- Event{Action: string(uevent.Action), DevPath: uevent.KObj}:
			default:
				// Nobody is listening right now; unplug events are
				// advisory, never worth blocking the socket reader.
			}
		case err := <-errs:
			m.logger.Warn("udev monitor error", logging.Error(err))
		}
	}
}

// soundRemovalMatcher matches ACTION=remove on SUBSYSTEM=sound.
func soundRemovalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}
