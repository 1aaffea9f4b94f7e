package domain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffled/internal/storage"
)

var (
	raffleAddr      = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	coordinatorAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	alice           = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob             = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	carol           = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	gasLane         = common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c")
)

// mockStore is an in-memory Store with ledger semantics
type mockStore struct {
	mu       sync.Mutex
	round    *storage.Round
	balances map[string]*big.Int
	rejects  map[string]bool
	events   []storage.Event
	payouts  []storage.Payout
	applyErr error
	applies  int
}

func newMockStore() *mockStore {
	return &mockStore{
		balances: make(map[string]*big.Int),
		rejects:  make(map[string]bool),
	}
}

func copyRound(r *storage.Round) *storage.Round {
	c := *r
	c.Players = append([]string(nil), r.Players...)
	return &c
}

func (m *mockStore) balance(addr string) *big.Int {
	b, ok := m.balances[strings.ToLower(addr)]
	if !ok {
		return new(big.Int)
	}
	return b
}

func (m *mockStore) CreateRound(ctx context.Context, r *storage.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round != nil {
		return storage.ErrExists
	}
	m.round = copyRound(r)
	return nil
}

func (m *mockStore) LoadRound(ctx context.Context, raffleID string) (*storage.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round == nil || m.round.RaffleID != raffleID {
		return nil, storage.ErrNotFound
	}
	r := copyRound(m.round)
	r.Balance = m.balance(r.Address).String()
	return r, nil
}

func (m *mockStore) ApplyRound(ctx context.Context, u storage.RoundUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	if m.applyErr != nil {
		return m.applyErr
	}
	if m.round == nil {
		return storage.ErrNotFound
	}
	if u.Round.Version != m.round.Version {
		return storage.ErrConflict
	}

	balances := make(map[string]*big.Int, len(m.balances))
	for k, v := range m.balances {
		balances[k] = new(big.Int).Set(v)
	}
	get := func(addr string) *big.Int {
		key := strings.ToLower(addr)
		if _, ok := balances[key]; !ok {
			balances[key] = new(big.Int)
		}
		return balances[key]
	}

	if u.Credit != nil {
		get(u.Round.Address).Add(get(u.Round.Address), u.Credit)
	}
	if u.Payout != nil {
		amount, _ := new(big.Int).SetString(u.Payout.Amount, 10)
		from := get(u.Round.Address)
		if from.Cmp(amount) < 0 {
			return storage.ErrInsufficientFunds
		}
		if m.rejects[strings.ToLower(u.Payout.Winner)] {
			return storage.ErrTransferRejected
		}
		from.Sub(from, amount)
		get(u.Payout.Winner).Add(get(u.Payout.Winner), amount)
		m.payouts = append(m.payouts, *u.Payout)
	}

	m.balances = balances
	m.round = copyRound(u.Round)
	m.round.Version++
	m.events = append(m.events, u.Events...)
	return nil
}

func (m *mockStore) ListEvents(ctx context.Context, raffleID string, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Event], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < pagination.Limit; i-- {
		out = append(out, m.events[i])
	}
	return &storage.PaginatedResult[storage.Event]{Data: out, HasMore: len(m.events) > pagination.Limit}, nil
}

func (m *mockStore) ListPayouts(ctx context.Context, raffleID string, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Payout], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Payout
	for i := len(m.payouts) - 1; i >= 0 && len(out) < pagination.Limit; i-- {
		out = append(out, m.payouts[i])
	}
	return &storage.PaginatedResult[storage.Payout]{Data: out}, nil
}

func (m *mockStore) eventNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.Name
	}
	return names
}

// mockCoordinator hands out sequential request ids
type mockCoordinator struct {
	mu       sync.Mutex
	nextID   int64
	requests []RandomWordsRequest
	err      error
}

func (c *mockCoordinator) RequestRandomWords(ctx context.Context, req RandomWordsRequest) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.nextID++
	c.requests = append(c.requests, req)
	return big.NewInt(c.nextID), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	fee      = big.NewInt(10_000_000_000_000_000) // 0.01 ether
	interval = 30 * time.Second
)

func testParams() Params {
	return Params{
		ID:               "test",
		Address:          raffleAddr,
		Coordinator:      coordinatorAddr,
		EntranceFee:      new(big.Int).Set(fee),
		GasLane:          gasLane,
		SubscriptionID:   1,
		CallbackGasLimit: 500_000,
		Interval:         interval,
	}
}

type fixture struct {
	raffle *Raffle
	store  *mockStore
	coord  *mockCoordinator
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMockStore(),
		coord: &mockCoordinator{},
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	r, err := New(context.Background(), testParams(), f.store, f.coord, WithClock(f.clock.Now))
	require.NoError(t, err)
	f.raffle = r
	return f
}

// closeRound enters the given players and triggers closure
func (f *fixture) closeRound(t *testing.T, players ...common.Address) *big.Int {
	t.Helper()
	ctx := context.Background()
	for _, p := range players {
		require.NoError(t, f.raffle.Enter(ctx, p, fee))
	}
	f.clock.Advance(interval + time.Second)
	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	return id
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, StateOpen, f.raffle.State())
	assert.Equal(t, 0, f.raffle.NumberOfPlayers())
	assert.Equal(t, common.Address{}, f.raffle.RecentWinner())
	assert.Equal(t, f.clock.Now(), f.raffle.LastTimestamp())
	assert.Equal(t, fee, f.raffle.EntranceFee())
	assert.Equal(t, uint32(1), f.raffle.NumWords())
	assert.Equal(t, uint16(3), f.raffle.RequestConfirmations())
	assert.Equal(t, interval, f.raffle.Interval())
	require.NotNil(t, f.store.round)
	assert.Equal(t, "OPEN", f.store.round.State)
}

func TestNew_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"empty id", func(p *Params) { p.ID = "" }},
		{"zero address", func(p *Params) { p.Address = common.Address{} }},
		{"zero coordinator", func(p *Params) { p.Coordinator = common.Address{} }},
		{"nil fee", func(p *Params) { p.EntranceFee = nil }},
		{"negative fee", func(p *Params) { p.EntranceFee = big.NewInt(-1) }},
		{"short interval", func(p *Params) { p.Interval = 500 * time.Millisecond }},
		{"zero gas limit", func(p *Params) { p.CallbackGasLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			_, err := New(context.Background(), p, newMockStore(), &mockCoordinator{})
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestNew_ResumesStoredRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))
	require.NoError(t, f.raffle.Enter(ctx, bob, fee))

	r, err := New(ctx, testParams(), f.store, f.coord, WithClock(f.clock.Now))
	require.NoError(t, err)

	assert.Equal(t, []common.Address{alice, bob}, r.Players())
	assert.Equal(t, new(big.Int).Mul(fee, big.NewInt(2)), r.Balance())
	assert.Equal(t, f.raffle.LastTimestamp(), r.LastTimestamp())
}

func TestNew_ParamsMismatch(t *testing.T) {
	f := newFixture(t)

	p := testParams()
	p.EntranceFee = big.NewInt(1)
	_, err := New(context.Background(), p, f.store, f.coord)
	assert.ErrorIs(t, err, ErrInvalidParams)

	p = testParams()
	p.Interval = time.Minute
	_, err = New(context.Background(), p, f.store, f.coord)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestEnter(t *testing.T) {
	tests := []struct {
		name    string
		value   *big.Int
		wantErr error
	}{
		{"exact fee", new(big.Int).Set(fee), nil},
		{"overpayment kept in pot", new(big.Int).Mul(fee, big.NewInt(3)), nil},
		{"underpayment", new(big.Int).Sub(fee, big.NewInt(1)), ErrNotEnoughPayment},
		{"zero", new(big.Int), ErrNotEnoughPayment},
		{"nil", nil, ErrNotEnoughPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.raffle.Enter(context.Background(), alice, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.raffle.NumberOfPlayers())
				assert.Equal(t, 0, f.raffle.Balance().Sign())
				assert.Empty(t, f.store.eventNames())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, f.raffle.NumberOfPlayers())
			assert.Equal(t, tt.value, f.raffle.Balance())
			assert.Equal(t, []string{EventRaffleEnter}, f.store.eventNames())
			assert.Equal(t, tt.value, f.store.balance(raffleAddr.Hex()))

			player, err := f.raffle.Player(0)
			require.NoError(t, err)
			assert.Equal(t, alice, player)
		})
	}
}

func TestEnter_SamePlayerTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))

	assert.Equal(t, []common.Address{alice, alice}, f.raffle.Players())
}

func TestEnter_WhileCalculating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.closeRound(t, alice)

	err := f.raffle.Enter(ctx, bob, fee)
	assert.ErrorIs(t, err, ErrNotOpen)

	// payment is checked before state
	err = f.raffle.Enter(ctx, bob, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNotEnoughPayment)

	assert.Equal(t, 1, f.raffle.NumberOfPlayers())
}

func TestEnter_StoreFailureLeavesRoundUntouched(t *testing.T) {
	f := newFixture(t)
	f.store.applyErr = errors.New("disk full")

	err := f.raffle.Enter(context.Background(), alice, fee)
	require.Error(t, err)
	assert.Equal(t, 0, f.raffle.NumberOfPlayers())
	assert.Equal(t, 0, f.raffle.Balance().Sign())
}

func TestCheckUpkeep(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		advance time.Duration
		want    bool
	}{
		{
			name:    "no players",
			advance: interval + time.Second,
			want:    false,
		},
		{
			name: "interval not passed",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.raffle.Enter(context.Background(), alice, fee))
			},
			advance: interval - time.Second,
			want:    false,
		},
		{
			name: "exactly interval is not enough",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.raffle.Enter(context.Background(), alice, fee))
			},
			advance: interval,
			want:    false,
		},
		{
			name: "all conditions hold",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.raffle.Enter(context.Background(), alice, fee))
			},
			advance: interval + time.Second,
			want:    true,
		},
		{
			name: "calculating",
			setup: func(t *testing.T, f *fixture) {
				f.closeRound(t, alice)
			},
			advance: interval + time.Second,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			f.clock.Advance(tt.advance)

			needed, performData := f.raffle.CheckUpkeep(context.Background(), []byte("ignored"))
			assert.Equal(t, tt.want, needed)
			assert.Empty(t, performData)
		})
	}
}

func TestCheckUpkeep_ZeroFeeNeedsBalance(t *testing.T) {
	f := &fixture{store: newMockStore(), coord: &mockCoordinator{}, clock: &fakeClock{now: time.Unix(1_700_000_000, 0)}}
	p := testParams()
	p.EntranceFee = new(big.Int)
	r, err := New(context.Background(), p, f.store, f.coord, WithClock(f.clock.Now))
	require.NoError(t, err)

	require.NoError(t, r.Enter(context.Background(), alice, new(big.Int)))
	f.clock.Advance(interval + time.Second)

	needed, _ := r.CheckUpkeep(context.Background(), nil)
	assert.False(t, needed)
}

func TestPerformUpkeep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))
	f.clock.Advance(interval + time.Second)

	id, err := f.raffle.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), id)
	assert.Equal(t, StateCalculating, f.raffle.State())
	assert.Equal(t, []string{EventRaffleEnter, EventRequestedRaffleWinner}, f.store.eventNames())

	require.Len(t, f.coord.requests, 1)
	assert.Equal(t, RandomWordsRequest{
		KeyHash:              gasLane,
		SubscriptionID:       1,
		RequestConfirmations: 3,
		CallbackGasLimit:     500_000,
		NumWords:             1,
		Consumer:             raffleAddr,
	}, f.coord.requests[0])

	summary := f.raffle.Summary()
	assert.Equal(t, "CALCULATING", summary.State)
	assert.Equal(t, big.NewInt(1), summary.PendingRequestID)
}

func TestPerformUpkeep_NotNeeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))

	_, err := f.raffle.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, ErrUpkeepNotNeeded)

	var notNeeded *UpkeepNotNeededError
	require.True(t, errors.As(err, &notNeeded))
	assert.Equal(t, fee, notNeeded.Balance)
	assert.Equal(t, 1, notNeeded.NumPlayers)
	assert.Equal(t, StateOpen, notNeeded.State)
	assert.Empty(t, f.coord.requests)
}

func TestPerformUpkeep_SecondCallFails(t *testing.T) {
	f := newFixture(t)
	f.closeRound(t, alice)

	_, err := f.raffle.PerformUpkeep(context.Background(), nil)
	var notNeeded *UpkeepNotNeededError
	require.ErrorAs(t, err, &notNeeded)
	assert.Equal(t, StateCalculating, notNeeded.State)
	assert.Len(t, f.coord.requests, 1)
}

func TestPerformUpkeep_CoordinatorFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raffle.Enter(ctx, alice, fee))
	f.clock.Advance(interval + time.Second)
	f.coord.err = errors.New("subscription not funded")

	_, err := f.raffle.PerformUpkeep(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, StateOpen, f.raffle.State())

	needed, _ := f.raffle.CheckUpkeep(ctx, nil)
	assert.True(t, needed)
}

func TestFulfillRandomWords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.raffle.LastTimestamp()
	id := f.closeRound(t, alice, bob, carol)
	pot := new(big.Int).Mul(fee, big.NewInt(3))

	// 7 mod 3 == 1
	result, err := f.raffle.FulfillRandomWords(ctx, coordinatorAddr, id, []*big.Int{big.NewInt(7)})
	require.NoError(t, err)

	assert.Equal(t, bob, result.Winner)
	assert.Equal(t, pot, result.Amount)
	assert.Equal(t, int64(1), result.Round)

	assert.Equal(t, bob, f.raffle.RecentWinner())
	assert.Equal(t, StateOpen, f.raffle.State())
	assert.Equal(t, 0, f.raffle.NumberOfPlayers())
	assert.Equal(t, 0, f.raffle.Balance().Sign())
	assert.True(t, f.raffle.LastTimestamp().After(start))
	assert.Nil(t, f.raffle.Summary().PendingRequestID)
	assert.Equal(t, int64(2), f.raffle.Summary().Round)

	assert.Equal(t, pot, f.store.balance(bob.Hex()))
	assert.Equal(t, 0, f.store.balance(raffleAddr.Hex()).Sign())
	assert.Equal(t, []string{
		EventRaffleEnter, EventRaffleEnter, EventRaffleEnter,
		EventRequestedRaffleWinner, EventWinnerPicked,
	}, f.store.eventNames())

	_, err = f.raffle.Player(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestFulfillRandomWords_SinglePlayer(t *testing.T) {
	f := newFixture(t)
	id := f.closeRound(t, alice)

	huge, ok := new(big.Int).SetString("78541660797044910968829902406342334108369226379826116161446442989268089806461", 10)
	require.True(t, ok)

	result, err := f.raffle.FulfillRandomWords(context.Background(), coordinatorAddr, id, []*big.Int{huge})
	require.NoError(t, err)
	assert.Equal(t, alice, result.Winner)
	assert.Equal(t, fee, f.store.balance(alice.Hex()))
}

func TestFulfillRandomWords_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		caller  common.Address
		id      func(id *big.Int) *big.Int
		words   []*big.Int
		wantErr error
	}{
		{
			name:    "not the coordinator",
			caller:  alice,
			id:      func(id *big.Int) *big.Int { return id },
			words:   []*big.Int{big.NewInt(1)},
			wantErr: ErrUnauthorizedCaller,
		},
		{
			name:    "unknown request",
			caller:  coordinatorAddr,
			id:      func(id *big.Int) *big.Int { return new(big.Int).Add(id, big.NewInt(1)) },
			words:   []*big.Int{big.NewInt(1)},
			wantErr: ErrUnknownRequest,
		},
		{
			name:    "no words",
			caller:  coordinatorAddr,
			id:      func(id *big.Int) *big.Int { return id },
			words:   nil,
			wantErr: ErrNoRandomWords,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.closeRound(t, alice, bob)

			_, err := f.raffle.FulfillRandomWords(context.Background(), tt.caller, tt.id(id), tt.words)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateCalculating, f.raffle.State())
			assert.Equal(t, 2, f.raffle.NumberOfPlayers())
		})
	}
}

func TestFulfillRandomWords_WhileOpen(t *testing.T) {
	f := newFixture(t)

	_, err := f.raffle.FulfillRandomWords(context.Background(), coordinatorAddr, big.NewInt(1), []*big.Int{big.NewInt(1)})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestFulfillRandomWords_TransferRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.closeRound(t, alice, bob)
	f.store.rejects[strings.ToLower(alice.Hex())] = true
	startedAt := f.raffle.LastTimestamp()
	f.clock.Advance(time.Minute)

	_, err := f.raffle.FulfillRandomWords(ctx, coordinatorAddr, id, []*big.Int{big.NewInt(0)})
	require.ErrorIs(t, err, ErrTransferFailed)

	assert.Equal(t, StateCalculating, f.raffle.State())
	assert.Equal(t, []common.Address{alice, bob}, f.raffle.Players())
	assert.Equal(t, common.Address{}, f.raffle.RecentWinner())
	assert.Equal(t, startedAt, f.raffle.LastTimestamp())
	assert.Equal(t, int64(1), f.raffle.Summary().Round)
	assert.Equal(t, new(big.Int).Mul(fee, big.NewInt(2)), f.raffle.Balance())
	assert.Equal(t, new(big.Int).Mul(fee, big.NewInt(2)), f.store.balance(raffleAddr.Hex()))
	assert.NotContains(t, f.store.eventNames(), EventWinnerPicked)
}

func TestFulfillRandomWords_PanicsWithoutPlayers(t *testing.T) {
	store := newMockStore()
	store.round = &storage.Round{
		RaffleID:         "test",
		Address:          strings.ToLower(raffleAddr.Hex()),
		EntranceFee:      fee.String(),
		IntervalSeconds:  int64(interval / time.Second),
		Round:            1,
		State:            "CALCULATING",
		LastTimestamp:    1_700_000_000,
		PendingRequestID: "9",
	}
	r, err := New(context.Background(), testParams(), store, &mockCoordinator{})
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = r.FulfillRandomWords(context.Background(), coordinatorAddr, big.NewInt(9), []*big.Int{big.NewInt(1)})
	})
}

func TestPlayer_OutOfRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.raffle.Enter(context.Background(), alice, fee))

	_, err := f.raffle.Player(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = f.raffle.Player(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestFullRoundThenNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.closeRound(t, alice, bob)
	_, err := f.raffle.FulfillRandomWords(ctx, coordinatorAddr, id, []*big.Int{big.NewInt(4)})
	require.NoError(t, err)
	assert.Equal(t, alice, f.raffle.RecentWinner())

	// the old request id cannot be replayed
	_, err = f.raffle.FulfillRandomWords(ctx, coordinatorAddr, id, []*big.Int{big.NewInt(4)})
	assert.ErrorIs(t, err, ErrUnknownRequest)

	id2 := f.closeRound(t, carol)
	assert.Equal(t, big.NewInt(2), id2)
	result, err := f.raffle.FulfillRandomWords(ctx, coordinatorAddr, id2, []*big.Int{big.NewInt(4)})
	require.NoError(t, err)
	assert.Equal(t, carol, result.Winner)
	assert.Equal(t, int64(2), result.Round)
	assert.Len(t, f.store.payouts, 2)
}

func TestEnter_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.raffle.Enter(ctx, alice, fee))
		}()
	}
	wg.Wait()

	assert.Equal(t, n, f.raffle.NumberOfPlayers())
	assert.Equal(t, new(big.Int).Mul(fee, big.NewInt(n)), f.raffle.Balance())
	assert.Equal(t, f.raffle.Balance(), f.store.balance(raffleAddr.Hex()))
}

func TestService_Lists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewService(f.raffle)

	id := f.closeRound(t, alice)
	_, err := svc.FulfillRandomWords(ctx, coordinatorAddr, id, []*big.Int{big.NewInt(1)})
	require.NoError(t, err)

	events, err := svc.Events(ctx, PaginationParams{})
	require.NoError(t, err)
	require.Len(t, events.Events, 3)
	assert.Equal(t, EventWinnerPicked, events.Events[0].Name)
	assert.Equal(t, alice.Hex(), events.Events[0].Payload["winner"])

	payouts, err := svc.Payouts(ctx, PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, payouts.Payouts, 1)
	assert.Equal(t, alice, payouts.Payouts[0].Winner)
	assert.Equal(t, fee, payouts.Payouts[0].Amount)
	assert.Equal(t, id, payouts.Payouts[0].RequestID)
}
