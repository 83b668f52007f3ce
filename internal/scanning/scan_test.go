package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning/mocks"
)

// fakeDialer accepts connections on the configured ports and refuses the rest.
type fakeDialer struct {
	open  map[uint16]bool
	calls atomic.Int64

	mu     sync.Mutex
	dialed map[uint16]int
}

func newFakeDialer(open ...uint16) *fakeDialer {
	d := &fakeDialer{open: make(map[uint16]bool), dialed: make(map[uint16]int)}
	for _, p := range open {
		d.open[p] = true
	}
	return d
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	if network != "tcp" {
		return nil, fmt.Errorf("unexpected network %q", network)
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dialed[ap.Port()]++
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.open[ap.Port()] {
		return nil, fmt.Errorf("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func (d *fakeDialer) dialCounts() map[uint16]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[uint16]int, len(d.dialed))
	for k, v := range d.dialed {
		counts[k] = v
	}
	return counts
}

var testTarget = netip.MustParseAddr("192.0.2.10")

func TestPartitionCoversEveryPortOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 4, 7, 1000, 32768, 65535} {
		t.Run(strconv.Itoa(workers), func(t *testing.T) {
			assignments, err := Partition(workers)
			require.NoError(t, err)
			require.Len(t, assignments, workers)

			seen := make([]int, MaxPort+1)
			total := 0
			for i, a := range assignments {
				assert.Equal(t, uint16(i), a.Start)
				assert.Equal(t, uint16(workers), a.Stride)

				count := 0
				for p := range a.Ports() {
					seen[p]++
					count++
				}
				assert.Equal(t, a.Count(), count, "assignment %d", i)
				total += count
			}

			assert.Equal(t, MaxPort+1, total)
			for p, n := range seen {
				if n != 1 {
					t.Fatalf("port %d probed %d times with %d workers", p, n, workers)
				}
			}
		})
	}
}

func TestAssignmentPortsAscending(t *testing.T) {
	a := Assignment{Start: 3, Stride: 7}
	prev := -1
	for p := range a.Ports() {
		assert.Greater(t, int(p), prev)
		assert.Equal(t, 0, (int(p)-3)%7)
		prev = int(p)
	}
	assert.LessOrEqual(t, MaxPort-prev, 6, "last port must be within one stride of the top")
}

func TestAssignmentSingleWorkerReachesTop(t *testing.T) {
	a := Assignment{Start: 0, Stride: 1}

	var first, last uint16
	count := 0
	for p := range a.Ports() {
		if count == 0 {
			first = p
		}
		last = p
		count++
	}
	assert.Equal(t, uint16(0), first)
	assert.Equal(t, uint16(MaxPort), last)
	assert.Equal(t, MaxPort+1, count)
}

func TestAssignmentMaxWorkers(t *testing.T) {
	assignments, err := Partition(MaxWorkers)
	require.NoError(t, err)

	var first []uint16
	for p := range assignments[0].Ports() {
		first = append(first, p)
	}
	assert.Equal(t, []uint16{0, MaxPort}, first)

	var last []uint16
	for p := range assignments[MaxWorkers-1].Ports() {
		last = append(last, p)
	}
	assert.Equal(t, []uint16{MaxPort - 1}, last)
}

func TestAssignmentPortsStopsEarly(t *testing.T) {
	a := Assignment{Start: 0, Stride: 1}
	n := 0
	for range a.Ports() {
		n++
		if n == 10 {
			break
		}
	}
	assert.Equal(t, 10, n)
}

func TestAssignmentZeroStride(t *testing.T) {
	a := Assignment{Start: 42}
	var got []uint16
	for p := range a.Ports() {
		got = append(got, p)
	}
	assert.Equal(t, []uint16{42}, got)
	assert.Equal(t, 1, a.Count())
}

func TestValidateWorkers(t *testing.T) {
	tests := []struct {
		workers int
		valid   bool
	}{
		{-1, false},
		{0, false},
		{1, true},
		{4, true},
		{MaxWorkers, true},
		{MaxWorkers + 1, false},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.workers), func(t *testing.T) {
			err := ValidateWorkers(tt.workers)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeWorkersInvalid))
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"192.168.1.10", "192.168.1.10", false},
		{"::1", "::1", false},
		{"2001:db8::1", "2001:db8::1", false},
		{"localhost", "", true},
		{"256.1.1.1", "", true},
		{"", "", true},
		{"10.0.0.1:80", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, err := ParseTarget(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
				assert.Contains(t, err.Error(), "not a valid IPADDR")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

func TestScanReportsOpenPortsSorted(t *testing.T) {
	dialer := newFakeDialer(80, 22)
	scanner := New(WithDialer(dialer))

	result, err := scanner.Scan(context.Background(), testTarget, 4)
	require.NoError(t, err)

	assert.Equal(t, []uint16{22, 80}, result.OpenPorts)
	assert.Equal(t, []string{"22 is open", "80 is open"}, result.Lines())
	assert.Equal(t, testTarget, result.Target)
	assert.Equal(t, 4, result.Workers)
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.EndTime.Before(result.StartTime))
	assert.Equal(t, int64(MaxPort+1), dialer.calls.Load())
}

func TestScanEveryPortDialedOnce(t *testing.T) {
	dialer := newFakeDialer()
	scanner := New(WithDialer(dialer))

	result, err := scanner.Scan(context.Background(), testTarget, 7)
	require.NoError(t, err)
	assert.Empty(t, result.OpenPorts)
	assert.Empty(t, result.Lines())

	counts := dialer.dialCounts()
	require.Len(t, counts, MaxPort+1)
	for p, n := range counts {
		if n != 1 {
			t.Fatalf("port %d dialed %d times", p, n)
		}
	}
}

func TestScanBoundaryPorts(t *testing.T) {
	open := []uint16{0, 1, 1023, 65534, 65535}

	for _, workers := range []int{1, 3, 1000, MaxWorkers} {
		t.Run(strconv.Itoa(workers), func(t *testing.T) {
			scanner := New(WithDialer(newFakeDialer(open...)))
			result, err := scanner.Scan(context.Background(), testTarget, workers)
			require.NoError(t, err)
			assert.Equal(t, open, result.OpenPorts)
		})
	}
}

func TestCollectSortsAndKeepsDuplicates(t *testing.T) {
	results := make(chan uint16, 3)
	for _, p := range []uint16{80, 22, 80} {
		results <- p
	}
	close(results)

	assert.Equal(t, []uint16{22, 80, 80}, collect(results))
}

func TestCollectEmpty(t *testing.T) {
	results := make(chan uint16)
	close(results)

	ports := collect(results)
	require.NotNil(t, ports)
	assert.Empty(t, ports)
}

func TestScanWithScanID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON}, &buf)

	scanner := New(WithDialer(newFakeDialer(22)), WithLogger(logger), WithScanID("run-42"))
	result, err := scanner.Scan(context.Background(), testTarget, 64)
	require.NoError(t, err)
	assert.Equal(t, "run-42", result.ID)

	var messages []string
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "Starting scan" || entry["msg"] == "Scan completed" {
			assert.Equal(t, "run-42", entry["scan_id"])
			messages = append(messages, entry["msg"].(string))
		}
	}
	assert.Equal(t, []string{"Starting scan", "Scan completed"}, messages)
}

func TestScanIdempotent(t *testing.T) {
	scanner := New(WithDialer(newFakeDialer(443, 8080, 22)))

	first, err := scanner.Scan(context.Background(), testTarget, 4)
	require.NoError(t, err)
	second, err := scanner.Scan(context.Background(), testTarget, 16)
	require.NoError(t, err)

	assert.Equal(t, first.OpenPorts, second.OpenPorts)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScanProgressCalledPerOpenPort(t *testing.T) {
	var mu sync.Mutex
	var reported []uint16

	scanner := New(
		WithDialer(newFakeDialer(21, 25, 110)),
		WithProgress(func(port uint16) {
			mu.Lock()
			reported = append(reported, port)
			mu.Unlock()
		}),
	)

	result, err := scanner.Scan(context.Background(), testTarget, 3)
	require.NoError(t, err)

	assert.ElementsMatch(t, result.OpenPorts, reported)
}

func TestScanIPv6Target(t *testing.T) {
	dialer := newFakeDialer(443)
	scanner := New(WithDialer(dialer))

	result, err := scanner.Scan(context.Background(), netip.MustParseAddr("2001:db8::1"), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{443}, result.OpenPorts)
}

func TestScanInvalidInputs(t *testing.T) {
	scanner := New(WithDialer(newFakeDialer()))

	t.Run("zero workers", func(t *testing.T) {
		result, err := scanner.Scan(context.Background(), testTarget, 0)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, errors.IsCode(err, errors.CodeWorkersInvalid))
	})

	t.Run("too many workers", func(t *testing.T) {
		_, err := scanner.Scan(context.Background(), testTarget, MaxWorkers+1)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeWorkersInvalid))
	})

	t.Run("invalid target", func(t *testing.T) {
		_, err := scanner.Scan(context.Background(), netip.Addr{}, 4)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
	})
}

func TestScanCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := New(WithDialer(newFakeDialer(22, 80)))
	result, err := scanner.Scan(ctx, testTarget, 4)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	require.NotNil(t, result)
	assert.Empty(t, result.OpenPorts)
}

func TestScanRecordsTelemetry(t *testing.T) {
	ctrl := gomock.NewController(t)

	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().
		DialContext(gomock.Any(), "tcp", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, address string) (net.Conn, error) {
			if address == "192.0.2.10:8080" {
				client, server := net.Pipe()
				_ = server.Close()
				return client, nil
			}
			return nil, fmt.Errorf("connection refused")
		}).
		Times(MaxPort + 1)

	recorder := mocks.NewMockRecorder(ctrl)
	recorder.EXPECT().WorkerStarted().Times(2)
	recorder.EXPECT().WorkerFinished().Times(2)
	recorder.EXPECT().RecordProbe(StateOpen).Times(1)
	recorder.EXPECT().RecordProbe(StateClosed).Times(MaxPort)
	recorder.EXPECT().RecordScan("success", gomock.Any(), 1).Times(1)

	scanner := New(WithDialer(dialer), WithRecorder(recorder))
	result, err := scanner.Scan(context.Background(), testTarget, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{8080}, result.OpenPorts)
}

func TestScanLocalListener(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full localhost scan in short mode")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	port := uint16(listener.Addr().(*net.TCPAddr).Port)

	result, err := New().Scan(context.Background(), netip.MustParseAddr("127.0.0.1"), 64)
	require.NoError(t, err)
	assert.Contains(t, result.OpenPorts, port)
	assert.IsIncreasing(t, result.OpenPorts)
}

type networkDialer struct {
	mu   sync.Mutex
	seen map[string]int
}

func (d *networkDialer) DialContext(_ context.Context, network, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.seen[network]++
	d.mu.Unlock()
	return nil, fmt.Errorf("connection refused")
}

func TestScanUsesConfiguredNetwork(t *testing.T) {
	d := &networkDialer{seen: make(map[string]int)}
	s := New(WithDialer(d), WithNetwork("tcp6"))

	result, err := s.Scan(context.Background(), netip.MustParseAddr("::1"), 256)
	require.NoError(t, err)
	assert.Empty(t, result.OpenPorts)
	assert.Equal(t, map[string]int{"tcp6": MaxPort + 1}, d.seen)
}
