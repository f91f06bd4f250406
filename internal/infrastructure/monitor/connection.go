package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/internal/infrastructure/buffer"
)

// Probe checks one backing service. Required probes decide IsOnline.
type Probe struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

func PostgresProbe(pool *pgxpool.Pool) Probe {
	return Probe{Name: "postgresql", Required: true, Timeout: 3 * time.Second, Check: pool.Ping}
}

func RedisProbe(client *redislib.Client) Probe {
	return Probe{Name: "redis", Required: true, Timeout: 2 * time.Second, Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Monitor polls the stores the catalog writes depend on. Buffer replay only
// runs while it reports online.
type Monitor struct {
	probes []Probe
	buffer *buffer.Store

	status   Status
	online   bool
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(buf *buffer.Store, interval time.Duration, logger *zap.Logger, probes ...Probe) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probes:   probes,
		buffer:   buf,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
		online:   true,
		status:   Status{Components: map[string]bool{}},
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.clone()
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh(context.Background())
	for {
		select {
		case <-ticker.C:
			m.Refresh(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Refresh runs every probe once and publishes the result.
func (m *Monitor) Refresh(ctx context.Context) Status {
	status := Status{Components: make(map[string]bool, len(m.probes)), LastCheck: time.Now()}
	online := true
	for _, p := range m.probes {
		ok := m.run(ctx, p)
		status.Components[p.Name] = ok
		if p.Required && !ok {
			online = false
		}
	}
	status.Buffer, status.BufferSize = m.checkBuffer()
	status.Online = online

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.status = status
	m.mu.Unlock()

	if changed {
		if online {
			m.logger.Info("backing stores reachable again", zap.Int("buffered", status.BufferSize))
		} else {
			m.logger.Warn("backing stores unreachable", zap.Any("components", status.Components))
		}
	}
	return status.clone()
}

func (m *Monitor) run(ctx context.Context, p Probe) bool {
	if p.Check == nil {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx) == nil
}

func (m *Monitor) checkBuffer() (bool, int) {
	if m.buffer == nil {
		return false, 0
	}
	size, err := m.buffer.Size()
	if err != nil {
		m.logger.Warn("buffer size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
