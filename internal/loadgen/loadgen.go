// Package loadgen implements the stochastic payment generator that runs
// at every end-user LP: a non-homogeneous Poisson process whose rate
// follows a 96-window tps schedule, sampling a payment scenario, amount
// and receiver for each generated transaction. It is composed the same way
// internal/htlc is: pure functions the node LP's dispatch table calls.
package loadgen

import (
	"math"
	"sort"

	"github.com/go-errors/errors"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/waterfall"
)

// Scenario is the kind of commerce a generated payment models.
type Scenario uint8

const (
	ScenarioPOS Scenario = iota
	ScenarioECom
	ScenarioP2P
)

const (
	// ScheduleWindows is the number of equal time slices the simulated
	// duration is divided into for the tps schedule: 96 windows of 15
	// minutes over a simulated day.
	ScheduleWindows = 96

	// CrossBorderProbability is the chance a generated payment crosses a
	// country border.
	CrossBorderProbability = 0.05

	// retryGenerateMaxOffsetMs bounds the uniform backoff a generator
	// waits when its user is still parked behind an in-flight
	// reverse-waterfall withdrawal.
	retryGenerateMaxOffsetMs = 3000

	gammaAlpha = 6.40
	gammaBeta  = 4.35
)

// scenarioPDF weights {POS, ECOM, P2P}.
var scenarioPDF = []int{800, 170, 3}

// amountRanges are the seven absolute sat brackets every scenario draws
// amounts from; each scenario weights them differently.
var amountRanges = [7][2]int64{
	{1, 500}, {501, 1000}, {1001, 2000}, {2001, 3000},
	{3001, 5000}, {5001, 10000}, {10001, 100000},
}

var (
	amountPDFGivenPOS  = []int{210, 170, 210, 130, 130, 100, 50}
	amountPDFGivenECom = []int{100, 110, 200, 150, 170, 160, 110}
	amountPDFGivenP2P  = []int{140, 110, 220, 160, 140, 110, 120}
)

// Schedule is the per-user target payment rate (tx/s) for each of the 96
// windows of the simulated duration.
type Schedule [ScheduleWindows]float64

// ConstantSchedule spreads a single aggregate tps target evenly across
// every window and every end user, the --tps default when no profile file
// is given.
func ConstantSchedule(tps uint, numEndUsers int) Schedule {
	var s Schedule
	if numEndUsers == 0 {
		return s
	}
	rate := float64(tps) / float64(numEndUsers)
	for i := range s {
		s[i] = rate
	}
	return s
}

// Emit is one event the generator wants scheduled. Payment is nil for the
// self-addressed GENERATE_PAYMENT reschedule, which carries no payload.
type Emit struct {
	Kind     executor.Kind
	Receiver executor.LPID
	DelayMs  int64
	Payment  *htlc.Payment
}

// Generator holds the sampling state shared by every end-user LP of the
// run: the tps schedule and the country-and-type node indexes
// receiver selection draws from. It is immutable after construction.
type Generator struct {
	net      *network.Network
	store    *htlc.Store
	schedule Schedule
	simEndMs int64

	reverseWaterfall bool

	countries          []string
	usersByCountry     map[string][]network.NodeID
	merchantsByCountry map[string][]network.NodeID
}

// New indexes the topology's end users and merchants by country and
// returns a ready Generator.
func New(net *network.Network, store *htlc.Store, schedule Schedule, simEndMs int64, reverseWaterfall bool) *Generator {
	g := &Generator{
		net:                net,
		store:              store,
		schedule:           schedule,
		simEndMs:           simEndMs,
		reverseWaterfall:   reverseWaterfall,
		usersByCountry:     make(map[string][]network.NodeID),
		merchantsByCountry: make(map[string][]network.NodeID),
	}

	seen := make(map[string]bool)
	for i := range net.Nodes {
		n := &net.Nodes[i]
		if !seen[n.Country] {
			seen[n.Country] = true
			g.countries = append(g.countries, n.Country)
		}
		switch n.Type {
		case network.NodeEndUser:
			g.usersByCountry[n.Country] = append(g.usersByCountry[n.Country], n.ID)
		case network.NodeMerchant:
			g.merchantsByCountry[n.Country] = append(g.merchantsByCountry[n.Country], n.ID)
		}
	}
	sort.Strings(g.countries)
	return g
}

// NumEndUsers counts the topology's end users, the divisor that turns an
// aggregate tps target into a per-user rate.
func NumEndUsers(net *network.Network) int {
	n := 0
	for i := range net.Nodes {
		if net.Nodes[i].Type == network.NodeEndUser {
			n++
		}
	}
	return n
}

// Generate handles one GENERATE_PAYMENT event at sender: it samples the
// next payment, hands it (or the reverse-waterfall withdrawal standing in
// for it) to FINDPATH, and reschedules itself. The created payment is
// returned so the caller can record it in the event for Reverse; nil means
// generation was deferred because the user is still awaiting a
// withdrawal.
func (g *Generator) Generate(senderID network.NodeID, now int64, rng *executor.Stream) ([]Emit, *htlc.Payment) {
	sender := g.net.Node(senderID)

	if g.reverseWaterfall && sender.PendingOnWithdrawal != nil {
		offset := int64(1 + rng.Intn(retryGenerateMaxOffsetMs))
		return []Emit{{Kind: executor.KindGeneratePayment, Receiver: executor.LPID(senderID), DelayMs: offset}}, nil
	}

	walletCap := sender.WalletCapacity(g.net)
	available := sender.AvailableBalance(g.net)

	scenario := Scenario(sampleDiscrete(rng, scenarioPDF))
	amount := g.sampleAmount(rng, scenario)
	if amount > walletCap {
		amount = walletCap
	}
	receiverID := g.sampleReceiver(rng, sender, scenario)
	receiver := g.net.Node(receiverID)

	var toForward *htlc.Payment
	if g.reverseWaterfall && available < amount {
		withdrawal := g.store.New(sender.Custodian, senderID, waterfall.WithdrawAmount(available, amount), now, htlc.TypeWithdrawal)
		postponed := g.store.New(senderID, receiverID, amount, now, htlc.TypeTX)
		postponed.LastHopID = receiver.Custodian
		sender.PendingOnWithdrawal = &network.PendingWithdrawal{
			WithdrawalID: uint64(withdrawal.ID),
			Payment:      postponed,
		}
		toForward = withdrawal
	} else {
		toForward = g.store.New(senderID, receiverID, amount, now, htlc.TypeTX)
		toForward.LastHopID = receiver.Custodian
	}

	var pmtDelay int64 = htlc.FindPathRetryMs
	if toForward.Type == htlc.TypeWithdrawal {
		pmtDelay = int64(rng.Gamma(gammaAlpha, gammaBeta))
	}

	emits := []Emit{
		{Kind: executor.KindFindPath, Receiver: executor.LPID(toForward.Sender), DelayMs: pmtDelay, Payment: toForward},
		{Kind: executor.KindGeneratePayment, Receiver: executor.LPID(senderID), DelayMs: g.nextGenerateOffset(now, pmtDelay, rng)},
	}
	return emits, toForward
}

// Rev undoes Generate: the created payment (and, for a withdrawal, the
// parked tx behind it) is removed from the store and the pending slot
// cleared.
func (g *Generator) Rev(senderID network.NodeID, createdID htlc.ID) {
	created, ok := g.store.Get(createdID)
	if !ok {
		return
	}
	if created.Type == htlc.TypeWithdrawal {
		sender := g.net.Node(senderID)
		if p := sender.PendingOnWithdrawal; p != nil && p.WithdrawalID == uint64(createdID) {
			if parked, ok := p.Payment.(*htlc.Payment); ok {
				g.store.Delete(parked.ID)
			}
			sender.PendingOnWithdrawal = nil
		}
	}
	g.store.Delete(createdID)
}

// rateAt returns the schedule's rate for the window containing now.
func (g *Generator) rateAt(now int64) float64 {
	idx := int(now * ScheduleWindows / g.simEndMs)
	if idx >= ScheduleWindows {
		idx = ScheduleWindows - 1
	}
	return g.schedule[idx]
}

// nextRateChange returns how far away the next window with a different
// rate begins and what that rate is.
func (g *Generator) nextRateChange(now int64) (deltaMs, nextRate float64) {
	step := math.Floor(float64(g.simEndMs) / ScheduleWindows)
	deltaToNextWindow := step - math.Mod(float64(now), step)

	start := int(now * ScheduleWindows / g.simEndMs)
	if start >= ScheduleWindows {
		start = ScheduleWindows - 1
	}
	cur := start + 1
	for cur < ScheduleWindows-1 && g.schedule[cur] == g.schedule[start] {
		cur++
	}
	if cur >= ScheduleWindows {
		cur = ScheduleWindows - 1
	}
	deltaMs = deltaToNextWindow + float64(cur-start-1)*step
	return deltaMs, g.schedule[cur]
}

// nextGenerateOffset samples the delay until the next GENERATE_PAYMENT:
// an exponential draw at the current window's rate, resampled from the
// next window's rate when the schedule changes before the draw lands, and
// never sooner than the routing latency plus the delay of the payment just
// handed off.
func (g *Generator) nextGenerateOffset(now, pmtDelay int64, rng *executor.Stream) int64 {
	tpsNow := g.rateAt(now)
	next := math.Round(rng.Exponential(tpsNow / 1000))

	if delta, tpsNext := g.nextRateChange(now); delta < next && tpsNext != tpsNow {
		next = delta + math.Round(rng.Exponential(tpsNext/1000))
	}

	min := float64(htlc.RoutingLatency + pmtDelay + 1)
	if next < min {
		next = min
	}
	return int64(next)
}

// sampleAmount draws a payment amount for scenario: first a bracket from
// the scenario's range pdf, then a uniform amount within it.
func (g *Generator) sampleAmount(rng *executor.Stream, scenario Scenario) money.Sat {
	var pdf []int
	switch scenario {
	case ScenarioPOS:
		pdf = amountPDFGivenPOS
	case ScenarioECom:
		pdf = amountPDFGivenECom
	case ScenarioP2P:
		pdf = amountPDFGivenP2P
	default:
		panic(errors.Errorf("loadgen: unknown payment scenario %d", scenario))
	}
	r := amountRanges[sampleDiscrete(rng, pdf)]
	return money.Sat(r[0] + int64(rng.Intn(int(r[1]-r[0]+1))))
}

// sampleReceiver picks the payment's receiver: a merchant for POS/e-com,
// a different end user for P2P, from the sender's own country unless the
// cross-border draw (or a country with too few candidates) forces another
// one.
func (g *Generator) sampleReceiver(rng *executor.Stream, sender *network.Node, scenario Scenario) network.NodeID {
	crossBorder := rng.Float64() < CrossBorderProbability

	country := sender.Country
	persons := g.usersByCountry[country]
	merchants := g.merchantsByCountry[country]

	startIdx := rng.Intn(len(g.countries))
	for i := 0; i < len(g.countries); i++ {
		mustMove := (crossBorder && country == sender.Country) ||
			((scenario == ScenarioPOS || scenario == ScenarioECom) && len(merchants) < 1) ||
			(scenario == ScenarioP2P && len(persons) < 2)
		if !mustMove {
			break
		}
		country = g.countries[(startIdx+i)%len(g.countries)]
		persons = g.usersByCountry[country]
		merchants = g.merchantsByCountry[country]
	}

	pool := merchants
	if scenario == ScenarioP2P {
		pool = persons
	}
	if len(pool) == 0 {
		panic(errors.Errorf("loadgen: no eligible receiver for scenario %d in any country", scenario))
	}
	for {
		candidate := pool[rng.Intn(len(pool))]
		if candidate != sender.ID {
			return candidate
		}
	}
}

// sampleDiscrete draws an index from an integer-weighted pdf.
func sampleDiscrete(rng *executor.Stream, pdf []int) int {
	total := 0
	for _, w := range pdf {
		total += w
	}
	rnd := 1 + rng.Intn(total)
	cum := 0
	for i, w := range pdf {
		cum += w
		if rnd <= cum {
			return i
		}
	}
	return len(pdf) - 1
}
