package domain

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Port Allocator Tests
// =============================================================================

func TestPortAllocator_FirstPortIsAfterCursor(t *testing.T) {
	a := NewPortAllocator(DefaultPortRange())

	port, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, 12346, port)
	assert.Equal(t, 12346, a.Cursor())
}

func TestPortAllocator_StrictlyIncreasing(t *testing.T) {
	a := NewPortAllocator(PortRange{First: 20000})

	prev := 0
	for i := 0; i < 100; i++ {
		port, err := a.Next()
		require.NoError(t, err)
		assert.Greater(t, port, prev)
		prev = port
	}
}

func TestPortAllocator_ConcurrentCallsNeverCollide(t *testing.T) {
	a := NewPortAllocator(DefaultPortRange())

	const workers, perWorker = 8, 50
	var (
		mu    sync.Mutex
		ports []int
		wg    sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p, err := a.Next()
				if err != nil {
					return
				}
				mu.Lock()
				ports = append(ports, p)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ports, workers*perWorker)
	sort.Ints(ports)
	for i := 1; i < len(ports); i++ {
		assert.NotEqual(t, ports[i-1], ports[i])
	}
}

func TestPortAllocator_Exhausted(t *testing.T) {
	a := NewPortAllocator(PortRange{First: 100, Last: 102})

	p1, err := a.Next()
	require.NoError(t, err)
	p2, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102}, []int{p1, p2})

	_, err = a.Next()
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestValidatePort(t *testing.T) {
	rng := PortRange{First: 100, Last: 200}
	assert.False(t, ValidatePort(100, rng))
	assert.True(t, ValidatePort(101, rng))
	assert.True(t, ValidatePort(200, rng))
	assert.False(t, ValidatePort(201, rng))
	assert.True(t, ValidatePort(MaxPort, PortRange{First: 100}))
	assert.False(t, ValidatePort(MaxPort+1, PortRange{First: 100}))
}

func TestPortAllocator_StopsAtMaxPort(t *testing.T) {
	assert.Equal(t, MaxPort, DefaultPortRange().Last)

	for _, rng := range []PortRange{{First: MaxPort - 1}, {First: MaxPort - 1, Last: MaxPort}} {
		a := NewPortAllocator(rng)

		p, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, MaxPort, p)

		_, err = a.Next()
		assert.ErrorIs(t, err, ErrPortsExhausted)
	}
}

// =============================================================================
// System Tests
// =============================================================================

func TestSystem_AddApplication_Duplicate(t *testing.T) {
	s := NewSystem("test", nil)
	require.NoError(t, s.AddApplication(NewApplication("ru", "host_ru", nil)))

	err := s.AddApplication(NewApplication("ru", "other", nil))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, []string{"ru"}, s.AppNames())
}

func TestSystem_FragmentProducers_DuplicateAcrossApps(t *testing.T) {
	s := NewSystem("test", nil)
	id := GeoID{System: 1}

	for _, name := range []string{"ru0", "ru1"} {
		g, _ := NewModuleGraph()
		require.NoError(t, g.AddFragmentProducer(FragmentProducer{GeoID: id}))
		require.NoError(t, s.AddApplication(NewApplication(name, "h", g)))
	}

	_, err := s.FragmentProducers()
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestSystem_AddApplication_DuplicateGeoID(t *testing.T) {
	s := NewSystem("test", nil)
	id := GeoID{System: 1}

	first, _ := NewModuleGraph()
	require.NoError(t, first.AddFragmentProducer(FragmentProducer{GeoID: id}))
	require.NoError(t, s.AddApplication(NewApplication("ru0", "h", first)))

	second, _ := NewModuleGraph()
	require.NoError(t, second.AddFragmentProducer(FragmentProducer{GeoID: GeoID{System: 2}}))
	require.NoError(t, second.AddFragmentProducer(FragmentProducer{GeoID: id}))
	err := s.AddApplication(NewApplication("ru1", "h", second))

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "geoid", dup.Scope)
	assert.Contains(t, dup.Key, "ru0")
	assert.Equal(t, []string{"ru0"}, s.AppNames())
}

func TestSystem_SetAppStartOrder(t *testing.T) {
	s := NewSystem("test", nil)
	require.NoError(t, s.AddApplication(NewApplication("x", "h", nil)))
	require.NoError(t, s.AddApplication(NewApplication("y", "h", nil)))

	tests := []struct {
		name  string
		order []string
	}{
		{"missing app", []string{"y"}},
		{"unknown app", []string{"x", "z"}},
		{"repeated app", []string{"x", "x"}},
		{"extra app", []string{"x", "y", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.SetAppStartOrder(tt.order), ErrInvalidOrder)
			assert.Nil(t, s.AppStartOrder())
		})
	}

	require.NoError(t, s.SetAppStartOrder([]string{"y", "x"}))
	assert.Equal(t, []string{"y", "x"}, s.AppStartOrder())
}

func TestSystem_AddConnection(t *testing.T) {
	s := NewSystem("test", nil)
	require.NoError(t, s.AddApplication(NewApplication("x", "hx", nil)))
	require.NoError(t, s.AddApplication(NewApplication("y", "hy", nil)))

	nc := NetworkConnection{UID: "test.metrics", ServiceType: ServicePointToPoint, URI: "tcp://{host_x}:12346"}
	require.NoError(t, s.AddConnection("x", nc))
	require.NoError(t, s.AddConnection("y", nc))

	assert.ErrorIs(t, s.AddConnection("x", nc), ErrDuplicateKey)
	assert.ErrorIs(t, s.AddConnection("z", nc), ErrNotFound)
	assert.Len(t, s.AllConnections(), 1)
	assert.Equal(t, []NetworkConnection{nc}, s.Connections("y"))
}

func TestSystem_Advance(t *testing.T) {
	s := NewSystem("test", nil)

	assert.ErrorIs(t, s.Advance(PhaseSynthesizing), ErrPhaseOrder)
	require.NoError(t, s.Advance(PhaseClassified))
	assert.ErrorIs(t, s.Advance(PhaseClassified), ErrPhaseOrder)
	require.NoError(t, s.Advance(PhaseSynthesizing))
	require.NoError(t, s.Advance(PhaseSynthesizing))
	assert.ErrorIs(t, s.Advance(PhaseClassified), ErrPhaseOrder)
}

// =============================================================================
// Value Tests
// =============================================================================

func TestParsePortRef(t *testing.T) {
	ref, err := ParsePortRef("trb.data_fragment_all")
	require.NoError(t, err)
	assert.Equal(t, PortRef{Module: "trb", Port: "data_fragment_all"}, ref)
	assert.Equal(t, "trb.data_fragment_all", ref.String())

	for _, bad := range []string{"", "trb", ".port", "mod."} {
		_, err := ParsePortRef(bad)
		assert.ErrorIs(t, err, ErrInvalidReference, bad)
	}
}

func TestGeoID_RawStringAndCompare(t *testing.T) {
	a := GeoID{System: 1, Region: 0, Element: 3}
	b := GeoID{System: 1, Region: 1, Element: 0}

	assert.Equal(t, "geoid1_0_3", a.RawString())
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestPayload_CopiesAndRoundTrips(t *testing.T) {
	src := []byte(`{"a":1}`)
	p, err := RawPayload(src)
	require.NoError(t, err)

	src[2] = 'b'
	assert.JSONEq(t, `{"a":1}`, p.String())

	b := p.Bytes()
	b[2] = 'c'
	assert.JSONEq(t, `{"a":1}`, p.String())

	_, err = RawPayload([]byte("{nope"))
	assert.Error(t, err)

	assert.True(t, Payload{}.IsZero())
	out, err := Payload{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestDirection_Parse(t *testing.T) {
	d, err := ParseDirection("in")
	require.NoError(t, err)
	assert.Equal(t, DirectionIn, d)

	d, err = ParseDirection("OUT")
	require.NoError(t, err)
	assert.Equal(t, DirectionOut, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestCollector_Warnings(t *testing.T) {
	var c Collector
	c.Report(Diagnostic{Severity: SeverityInfo, Message: "a"})
	c.Report(Diagnostic{Severity: SeverityWarning, Message: "b"})

	assert.Len(t, c.Diagnostics(), 2)
	require.Len(t, c.Warnings(), 1)
	assert.Equal(t, "b", c.Warnings()[0].Message)
}
